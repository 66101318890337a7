// Package breaker 提供熔断器组件，用于下游依赖的故障隔离与自动恢复。
//
// breaker 是 msgrelay 弹性层的核心组件，它提供了：
// - 基于 gobreaker 的熔断器实现
// - 依赖级粒度的熔断管理（按下游依赖名独立熔断）
// - 连续失败计数触发熔断，半开状态探测自动恢复
// - 单次调用级别的超时控制（超时计为一次失败）
// - 灵活的降级策略（返回调用方提供的兜底值，绝不向上抛原始错误）
// - 手动 Reset 支持运维强制恢复
//
// ## 基本使用
//
//	brk, _ := breaker.New(&breaker.Config{
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		OpenTimeout:      30 * time.Second,
//		CallTimeout:      5 * time.Second,
//	}, breaker.WithLogger(logger))
//
//	result, err := brk.Execute(ctx, "backend", func(ctx context.Context) (any, error) {
//		return client.Query(ctx, q)
//	})
//
// ## 降级策略
//
//	answer := brk.ExecuteWithFallback(ctx, "backend", fn,
//		func(ctx context.Context, key string, err error) any {
//			return cfg.FallbackAnswer
//		})
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/msgrelay/clog"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// ProtectedFunc 受熔断保护的函数
type ProtectedFunc func(ctx context.Context) (any, error)

// FallbackFunc 降级函数类型
//
// 当熔断器打开或受保护调用失败时被调用，返回替代结果。
// 降级函数不允许失败，由类型签名保证。
type FallbackFunc func(ctx context.Context, key string, err error) any

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数
	// key: 熔断键（下游依赖名，如 "backend"）
	// fn: 要执行的函数
	// 返回: 函数执行结果和错误；熔断打开时返回 ErrOpenState
	Execute(ctx context.Context, key string, fn ProtectedFunc) (any, error)

	// ExecuteWithFallback 执行受熔断保护的函数，失败时降级
	// 熔断打开、探测请求超限或受保护调用失败时，返回 fallback 的结果，
	// 原始错误不会向调用方传播（失败仍会计入熔断统计）。
	ExecuteWithFallback(ctx context.Context, key string, fn ProtectedFunc, fallback FallbackFunc) any

	// State 获取指定键的熔断器状态（尚未创建的键视为 CLOSED）
	State(key string) State

	// Counts 获取指定键的计数器快照
	Counts(key string) Counts

	// Reset 手动将指定键的熔断器重置为 CLOSED 并清零计数器
	// 用于运维场景的强制恢复，不用于业务逻辑。
	Reset(key string)
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Counts 计数器快照
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 熔断器配置
//
// 一个 Breaker 实例按键管理多个独立熔断器，所有键共享同一份配置。
// 计数器为进程生命周期状态，仅在状态转换或手动 Reset 时清零。
type Config struct {
	// FailureThreshold 闭合状态下触发熔断的连续失败次数（默认：5）
	FailureThreshold uint32 `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold 半开状态下恢复闭合所需的连续成功次数（默认：1）
	// 同时限制半开状态下并发探测请求的上限。
	SuccessThreshold uint32 `json:"success_threshold" yaml:"success_threshold"`

	// OpenTimeout 打开状态持续时间（默认：30s）
	// 超时后下一次调用进入半开状态进行探测。
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`

	// CallTimeout 单次受保护调用的超时时间（默认：0，不限制）
	// 超时计为一次失败，且迟到的结果不再影响熔断统计。
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
}

// setDefaults 填充默认值
func (c *Config) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建熔断器实例
//
// 参数:
//   - cfg: 熔断器配置
//   - opts: 可选参数 (Logger, Meter)
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "breaker"))

	logger.Info("creating circuit breaker",
		clog.Int("failure_threshold", int(cfg.FailureThreshold)),
		clog.Int("success_threshold", int(cfg.SuccessThreshold)),
		clog.Duration("open_timeout", cfg.OpenTimeout),
		clog.Duration("call_timeout", cfg.CallTimeout))

	return newBreaker(cfg, logger, opt.meter)
}
