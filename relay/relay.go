// Package relay 提供入站事件的编排状态机，将弹性组件组合为完整的消息中继流水线。
//
// relay 是 msgrelay 的编排层，它提供了：
// - 单事件状态机：RECEIVED → RATE_CHECKED → AUTHENTICATED → NORMALIZED
//   → FORWARDED → REPLIED → DONE，任一步失败进入终态 FAILED
// - 限流前置：限流拒绝在签名校验与任何副作用之前发生
// - 多消息负载逐条独立处理，单条失败不影响兄弟消息
// - 后端调用经熔断器 + 重试执行器双重保护，熔断打开或调用失败时
//   使用配置的兜底回答继续流水线而非中断
// - 超长回答经分段器切分后按序发送，段间固定延迟；某段最终失败
//   中止剩余段并报告部分投递失败
//
// ## 基本使用
//
//	pipe, _ := relay.New(cfg, &relay.Deps{
//		Normalizer: platform.NewNormalizer(),
//		Query:      backendClient,
//		Channel:    channelClient,
//		Validator:  validator,
//		Limiter:    limiter,
//	}, relay.WithLogger(logger))
//
//	result := pipe.Process(ctx, &relay.Inbound{
//		RemoteIP:  c.ClientIP(),
//		Signature: c.GetHeader("X-Hub-Signature-256"),
//		RawBody:   rawBody,
//	})
//
// 每个事件的流水线是一串顺序的挂起点（网络调用、定时器），事件
// 之间并发执行；跨事件共享的计数状态由熔断器与限流器内部保证原子。
package relay

import (
	"context"
	"time"

	"github.com/ceyewan/msgrelay/breaker"
	"github.com/ceyewan/msgrelay/chunker"
	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/ratelimit"
	"github.com/ceyewan/msgrelay/retry"
	"github.com/ceyewan/msgrelay/signature"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Message 归一化后的入站消息（规范查询对象）
type Message struct {
	UserID    string            `json:"user_id"`
	Channel   string            `json:"channel"`
	Text      string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Normalizer 入站事件归一化器
//
// 将平台原始事件负载解析为规范消息序列。多消息负载返回多条；
// 负载整体畸形时返回错误（流水线不重试归一化失败）。
type Normalizer interface {
	Normalize(rawEvent []byte) ([]Message, error)
}

// QueryClient 后端查询服务客户端
type QueryClient interface {
	// Query 转发规范消息，返回回答文本
	Query(ctx context.Context, msg Message) (string, error)
}

// ChannelClient 出站通道客户端
type ChannelClient interface {
	// Send 向指定接收者发送一段文本
	Send(ctx context.Context, recipient, text string) error
}

// Pipeline 事件编排流水线核心接口
type Pipeline interface {
	// Process 驱动一个入站事件走完状态机
	// 对调用方永不 panic；所有失败汇总在返回的 Result 中。
	Process(ctx context.Context, inbound *Inbound) *Result
}

// ========================================
// 数据定义 (Data Types)
// ========================================

// Inbound 一个入站事件
type Inbound struct {
	// EventID 事件标识，为空时自动生成 UUID
	EventID string

	// RemoteIP 客户端地址，作为限流标识
	RemoteIP string

	// Signature 签名头原文（如 "sha256=<hex>"）
	Signature string

	// RawBody 收到的原始请求体字节（任何反序列化之前）
	RawBody []byte
}

// State 流水线状态
type State int

const (
	// StateReceived 已接收
	StateReceived State = iota
	// StateRateChecked 已通过限流
	StateRateChecked
	// StateAuthenticated 已通过签名校验
	StateAuthenticated
	// StateNormalized 已归一化
	StateNormalized
	// StateForwarded 已转发后端
	StateForwarded
	// StateReplied 已回复
	StateReplied
	// StateDone 完成（终态）
	StateDone
	// StateFailed 失败（终态）
	StateFailed
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRateChecked:
		return "rate_checked"
	case StateAuthenticated:
		return "authenticated"
	case StateNormalized:
		return "normalized"
	case StateForwarded:
		return "forwarded"
	case StateReplied:
		return "replied"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result 一个事件的处理结果
type Result struct {
	// EventID 事件标识
	EventID string

	// State 事件终态（StateDone 或 StateFailed）
	State State

	// Err 失败原因；多条消息失败时为合并错误
	Err error

	// Messages 逐条消息的处理结果
	Messages []MessageResult
}

// MessageResult 单条消息的处理结果
type MessageResult struct {
	// UserID 消息归属用户
	UserID string

	// State 消息终态
	State State

	// Fallback 后端不可用，回答使用了兜底文本
	Fallback bool

	// ChunksSent 成功发出的分段数
	ChunksSent int

	// ChunksTotal 计划发出的分段数
	ChunksTotal int

	// Err 失败原因（部分投递等）
	Err error
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 编排流水线配置
type Config struct {
	// FallbackAnswer 后端不可用时的兜底回答
	// （默认："The service is busy right now, please try again later."）
	FallbackAnswer string `json:"fallback_answer" yaml:"fallback_answer"`

	// BackendKey 后端依赖的熔断键（默认："backend"）
	BackendKey string `json:"backend_key" yaml:"backend_key"`

	// DisableChunking 禁用超长回答分段（默认：false，即启用分段）
	DisableChunking bool `json:"disable_chunking" yaml:"disable_chunking"`

	// ChunkMaxLength 单条出站消息的长度上限（字符数，默认：4096）
	ChunkMaxLength int `json:"chunk_max_length" yaml:"chunk_max_length"`

	// InterChunkDelay 分段之间的发送间隔（默认：500ms）
	// 尊重通道的出站速率预期并保持感知顺序。
	InterChunkDelay time.Duration `json:"inter_chunk_delay" yaml:"inter_chunk_delay"`

	// RateLimit 入站限流规则；Requests 或 Window 为零时跳过限流
	RateLimit ratelimit.Limit `json:"rate_limit" yaml:"rate_limit"`

	// AllowOnNoSecret 签名密钥未配置时放行并告警（默认：false，拒绝）
	// 部署策略：开发环境可放行，生产环境应拒绝。
	AllowOnNoSecret bool `json:"allow_on_no_secret" yaml:"allow_on_no_secret"`

	// QueryPolicy 后端查询的重试策略
	// ShouldRetry 为 nil 时使用 Retryable（按错误分类判定）。
	QueryPolicy retry.Policy `json:"query_policy" yaml:"query_policy"`

	// SendPolicy 出站发送的重试策略
	SendPolicy retry.Policy `json:"send_policy" yaml:"send_policy"`
}

// setDefaults 填充默认值
func (c *Config) setDefaults() {
	if c.FallbackAnswer == "" {
		c.FallbackAnswer = "The service is busy right now, please try again later."
	}
	if c.BackendKey == "" {
		c.BackendKey = "backend"
	}
	if c.ChunkMaxLength == 0 {
		c.ChunkMaxLength = 4096
	}
	if c.InterChunkDelay == 0 {
		c.InterChunkDelay = 500 * time.Millisecond
	}
	if c.QueryPolicy.ShouldRetry == nil {
		c.QueryPolicy.ShouldRetry = Retryable
	}
	if c.SendPolicy.ShouldRetry == nil {
		c.SendPolicy.ShouldRetry = Retryable
	}
}

// Deps 流水线协作方
//
// Normalizer、Query、Channel 必填。Validator 为 nil 时跳过签名
// 校验（仅限可信网络部署）；Limiter 为 nil 时跳过限流。
// Breaker、Retry 为 nil 时使用默认配置内部创建。
type Deps struct {
	Normalizer Normalizer
	Query      QueryClient
	Channel    ChannelClient
	Validator  signature.Validator
	Limiter    ratelimit.Limiter
	Breaker    breaker.Breaker
	Retry      retry.Executor
}

// validate 验证必填协作方
func (d *Deps) validate() error {
	if d == nil || d.Normalizer == nil || d.Query == nil || d.Channel == nil {
		return ErrDepsIncomplete
	}
	return nil
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建编排流水线
//
// 参数:
//   - cfg: 流水线配置，nil 时使用默认值
//   - deps: 协作方（Normalizer、Query、Channel 必填）
//   - opts: 可选参数 (Logger, Meter)
func New(cfg *Config, deps *Deps, opts ...Option) (Pipeline, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	if err := deps.validate(); err != nil {
		return nil, err
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "relay"))

	if deps.Retry == nil {
		exec, err := retry.New(retry.WithLogger(logger), retry.WithMeter(opt.meter))
		if err != nil {
			return nil, err
		}
		deps.Retry = exec
	}
	if deps.Breaker == nil {
		brk, err := breaker.New(&breaker.Config{}, breaker.WithLogger(logger), breaker.WithMeter(opt.meter))
		if err != nil {
			return nil, err
		}
		deps.Breaker = brk
	}

	splitter, err := chunker.New(cfg.ChunkMaxLength)
	if err != nil {
		return nil, err
	}

	logger.Info("creating relay pipeline",
		clog.String("backend_key", cfg.BackendKey),
		clog.Int("chunk_max_length", cfg.ChunkMaxLength),
		clog.Duration("inter_chunk_delay", cfg.InterChunkDelay),
		clog.Bool("chunking_enabled", !cfg.DisableChunking))

	return newPipeline(cfg, deps, splitter, logger, opt.meter)
}
