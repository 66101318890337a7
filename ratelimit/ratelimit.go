// Package ratelimit 提供固定窗口限流组件，支持分布式、单机与自动降级三种形态。
//
// ratelimit 是 msgrelay 弹性层的核心组件，它提供了：
// - 统一的 Limiter 接口，屏蔽不同后端的差异
// - 分布式模式：基于 Redis + Lua 的固定窗口计数，跨副本一致
// - 单机模式：进程内互斥锁保护的固定窗口计数
// - 降级模式：Redis 可用时走分布式，出错时自动切换到单机，
//   并周期性探测恢复——存储故障绝不会让请求路径报错
// - 开箱即用的 Gin 中间件（429 + Retry-After）
//
// ## 基本使用
//
//	local, _ := ratelimit.NewStandalone(nil, ratelimit.WithLogger(logger))
//
//	decision, _ := local.Allow(ctx, "ip:1.2.3.4", ratelimit.Limit{
//		Requests: 100,
//		Window:   time.Minute,
//	})
//	if !decision.Allowed {
//		// 拒绝，decision.RetryAfter 为距窗口过期的剩余时间
//	}
//
// ## 降级模式
//
//	redisConn, _ := connector.NewRedis(&cfg.Redis, connector.WithLogger(logger))
//	dist, _ := ratelimit.NewDistributed(redisConn, nil, ratelimit.WithLogger(logger))
//	limiter, _ := ratelimit.NewFailover(dist, local, nil, ratelimit.WithLogger(logger))
//
// ## 已知退化
//
// 降级到单机模式后，多副本部署的全局限额放宽为每副本限额
// （N 个副本时约为 N 倍）。这是存储故障期间接受的退化，不是缺陷。
package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/connector"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Limit 定义限流规则（固定窗口计数）
type Limit struct {
	Requests int           // 窗口内允许的最大请求数
	Window   time.Duration // 窗口长度
}

// valid 检查限流规则是否合法
func (l Limit) valid() bool {
	return l.Requests > 0 && l.Window > 0
}

// Decision 一次限流判定的结果
type Decision struct {
	// Allowed 是否允许本次请求
	Allowed bool

	// Remaining 当前窗口内剩余的可用额度
	Remaining int

	// RetryAfter 拒绝时距当前窗口过期的剩余时间（允许时为 0）
	RetryAfter time.Duration
}

// Limiter 限流器核心接口
type Limiter interface {
	// Allow 判定 key 标识的客户端在当前窗口内是否允许再发起一次请求
	// key: 限流标识（如 "ip:1.2.3.4"）
	// limit: 限流规则
	// 返回: 判定结果, error（系统错误，降级实现永不返回）
	Allow(ctx context.Context, key string, limit Limit) (Decision, error)

	// Close 释放限流器持有的资源
	Close() error
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// DistributedConfig 分布式限流配置
type DistributedConfig struct {
	// Prefix Redis Key 前缀（默认："ratelimit:"）
	Prefix string `json:"prefix" yaml:"prefix"`
}

func (c *DistributedConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "ratelimit:"
	}
}

// StandaloneConfig 单机限流配置
type StandaloneConfig struct {
	// CleanupInterval 清理过期窗口的间隔（默认：1 分钟）
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

func (c *StandaloneConfig) setDefaults() {
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Minute
	}
}

// FailoverConfig 降级限流配置
type FailoverConfig struct {
	// ProbeInterval 主后端出错后，重新探测恢复的间隔（默认：5s）
	// 恢复无需重启进程：间隔过后下一次请求会再次尝试主后端。
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval"`
}

func (c *FailoverConfig) setDefaults() {
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 5 * time.Second
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// NewDistributed 创建分布式限流器
//
// 参数:
//   - redisConn: Redis 连接器
//   - cfg: 分布式限流配置，nil 时使用默认值
//   - opts: 可选参数 (Logger, Meter)
func NewDistributed(redisConn connector.RedisConnector, cfg *DistributedConfig, opts ...Option) (Limiter, error) {
	if redisConn == nil {
		return nil, ErrConnectorNil
	}
	if cfg == nil {
		cfg = &DistributedConfig{}
	}
	cfg.setDefaults()

	opt := applyOptions(opts...)
	logger := opt.logger.With(clog.String("component", "ratelimit"))

	return newDistributed(cfg, redisConn, logger, opt.meter)
}

// NewStandalone 创建单机限流器
//
// 参数:
//   - cfg: 单机限流配置，nil 时使用默认值
//   - opts: 可选参数 (Logger, Meter)
func NewStandalone(cfg *StandaloneConfig, opts ...Option) (Limiter, error) {
	if cfg == nil {
		cfg = &StandaloneConfig{}
	}
	cfg.setDefaults()

	opt := applyOptions(opts...)
	logger := opt.logger.With(clog.String("component", "ratelimit"))

	return newStandalone(cfg, logger, opt.meter)
}

// NewFailover 创建降级限流器
//
// primary 可用时所有判定走 primary（跨副本一致）；primary 出错时
// 切换到 fallback 并在 ProbeInterval 之后自动重试 primary。
//
// 参数:
//   - primary: 主限流器（通常为分布式）
//   - fallback: 降级限流器（通常为单机）
//   - cfg: 降级配置，nil 时使用默认值
//   - opts: 可选参数 (Logger, Meter)
func NewFailover(primary, fallback Limiter, cfg *FailoverConfig, opts ...Option) (Limiter, error) {
	if primary == nil || fallback == nil {
		return nil, ErrLimiterNil
	}
	if cfg == nil {
		cfg = &FailoverConfig{}
	}
	cfg.setDefaults()

	opt := applyOptions(opts...)
	logger := opt.logger.With(clog.String("component", "ratelimit"))

	return newFailover(cfg, primary, fallback, logger, opt.meter)
}
