// Package retry 提供带超时控制的通用重试执行器。
//
// retry 是 msgrelay 弹性层的核心组件，它提供了：
// - 单次尝试级别的超时控制（超时后放弃等待，迟到的结果被丢弃）
// - 可配置的重试策略（固定间隔或指数退避，基于 cenkalti/backoff）
// - 调用方自定义的重试判定（ShouldRetry）
// - 每次尝试的日志与指标上报
//
// ## 基本使用
//
//	exec, _ := retry.New(retry.WithLogger(logger))
//
//	result, err := exec.Do(ctx, "backend.query", func(ctx context.Context) (any, error) {
//		return client.Query(ctx, q)
//	}, retry.Policy{
//		Timeout:    5 * time.Second,
//		MaxRetries: 2,
//		Delay:      200 * time.Millisecond,
//		Backoff:    retry.BackoffExponential,
//	})
//
// ## 幂等性
//
// 执行器可能多次调用 op，由调用方保证 op 可安全重复调用
// （幂等或可容忍副作用），执行器本身不做去重。
package retry

import (
	"context"
	"time"

	"github.com/ceyewan/msgrelay/clog"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Operation 受重试保护的异步工作单元
//
// op 必须尊重传入 ctx 的截止时间：超时后执行器不再等待其返回，
// 迟到的结果会被丢弃，不会影响任何外部状态。
type Operation func(ctx context.Context) (any, error)

// Executor 重试执行器核心接口
type Executor interface {
	// Do 按策略执行 op
	// name: 调用点标识（如 "backend.query"），用于日志与指标
	// op: 要执行的操作
	// policy: 重试策略（由调用方提供，执行器不持有默认策略）
	// 返回: 成功结果，或最后一次失败的错误
	Do(ctx context.Context, name string, op Operation, policy Policy) (any, error)
}

// BackoffKind 重试间隔策略
type BackoffKind int

const (
	// BackoffConstant 每次重试使用相同的间隔
	BackoffConstant BackoffKind = iota
	// BackoffExponential 间隔按倍数增长并带随机抖动
	BackoffExponential
)

// ========================================
// 配置定义 (Configuration)
// ========================================

// Policy 单个调用点的重试策略
//
// Policy 不可变，由调用方在每次 Do 时提供。
// 总尝试次数 = MaxRetries + 1；最后一次尝试之后不再等待。
type Policy struct {
	// Timeout 单次尝试的超时时间（默认：0，不限制）
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries 最大重试次数（默认：0，即只尝试一次）
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Delay 首次重试前的等待间隔（默认：100ms）
	Delay time.Duration `json:"delay" yaml:"delay"`

	// MaxDelay 指数退避的间隔上限（默认：30s）
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Backoff 间隔策略（默认：BackoffConstant）
	Backoff BackoffKind `json:"backoff" yaml:"backoff"`

	// ShouldRetry 判定失败是否可重试
	// 为 nil 时，除 context 取消外的所有错误均重试。
	ShouldRetry func(err error) bool `json:"-" yaml:"-"`
}

// setDefaults 填充默认值
func (p *Policy) setDefaults() {
	if p.Delay <= 0 {
		p.Delay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建重试执行器
//
// 参数:
//   - opts: 可选参数 (Logger, Meter)
func New(opts ...Option) (Executor, error) {
	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "retry"))

	return newExecutor(logger, opt.meter)
}
