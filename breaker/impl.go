package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/xerrors"
)

// circuitBreaker 熔断器实现（非导出）
type circuitBreaker struct {
	cfg    *Config
	logger clog.Logger

	// 依赖级熔断器管理
	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]

	// 指标
	requestsCounter metrics.Counter
	stateCounter    metrics.Counter
	durationHist    metrics.Histogram
}

// newBreaker 创建熔断器实例（内部函数）
// 注意：cfg 已在 New() 中设置了默认值
func newBreaker(cfg *Config, logger clog.Logger, meter metrics.Meter) (Breaker, error) {
	cb := &circuitBreaker{
		cfg:    cfg,
		logger: logger,
	}

	if meter != nil {
		cb.requestsCounter, _ = meter.Counter(MetricRequestsTotal, "Protected requests", LabelKey, LabelOutcome)
		cb.stateCounter, _ = meter.Counter(MetricStateChanges, "Circuit breaker state changes", LabelKey, LabelFromState, LabelToState)
		cb.durationHist, _ = meter.Histogram(MetricRequestDuration, "Protected request duration in seconds", LabelKey)
	}

	return cb, nil
}

// Execute 执行受熔断保护的函数
func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn ProtectedFunc) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	brk := cb.getOrCreateBreaker(key)

	start := time.Now()
	result, err := brk.Execute(func() (any, error) {
		return cb.callWithTimeout(ctx, fn)
	})
	cb.recordMetrics(ctx, key, err, time.Since(start))

	if err != nil && (xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests)) {
		cb.logger.Warn("circuit breaker rejected call",
			clog.String("key", key),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
	}

	return result, err
}

// ExecuteWithFallback 执行受熔断保护的函数，失败时降级
func (cb *circuitBreaker) ExecuteWithFallback(ctx context.Context, key string, fn ProtectedFunc, fallback FallbackFunc) any {
	result, err := cb.Execute(ctx, key, fn)
	if err == nil {
		return result
	}

	cb.logger.Info("protected call failed, initiating fallback",
		clog.String("key", key),
		clog.Error(err))

	return fallback(ctx, key, err)
}

// callWithTimeout 应用 CallTimeout 执行受保护调用
//
// 结果通道带缓冲：超时之后迟到的结果被丢弃，不再影响熔断统计。
func (cb *circuitBreaker) callWithTimeout(ctx context.Context, fn ProtectedFunc) (any, error) {
	if cb.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(callCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		if xerrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrCallTimeout
		}
		return nil, callCtx.Err()
	}
}

// State 获取指定键的熔断器状态
func (cb *circuitBreaker) State(key string) State {
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed
	}
	return fromGobreakerState(val.(*gobreaker.CircuitBreaker[any]).State())
}

// Counts 获取指定键的计数器快照
func (cb *circuitBreaker) Counts(key string) Counts {
	val, ok := cb.breakers.Load(key)
	if !ok {
		return Counts{}
	}
	c := val.(*gobreaker.CircuitBreaker[any]).Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Reset 手动重置指定键的熔断器
// 删除后下一次调用会重新创建一个闭合且计数为零的熔断器。
func (cb *circuitBreaker) Reset(key string) {
	cb.breakers.Delete(key)
	cb.logger.Info("circuit breaker reset", clog.String("key", key))
}

// getOrCreateBreaker 获取或创建指定键的熔断器
func (cb *circuitBreaker) getOrCreateBreaker(key string) *gobreaker.CircuitBreaker[any] {
	val, ok := cb.breakers.Load(key)
	if ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name: key,
		// 半开状态允许的探测请求数，同时是恢复闭合所需的连续成功次数
		MaxRequests: cb.cfg.SuccessThreshold,
		Timeout:     cb.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cb.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			cb.onStateChange(name, from, to)
		},
	}

	brk := gobreaker.NewCircuitBreaker[any](settings)

	// 可能有并发创建，使用 LoadOrStore
	actual, _ := cb.breakers.LoadOrStore(key, brk)
	return actual.(*gobreaker.CircuitBreaker[any])
}

// onStateChange 状态变更回调
func (cb *circuitBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	cb.logger.Info("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromGobreakerState(from).String()),
		clog.String("to", fromGobreakerState(to).String()))

	if cb.stateCounter != nil {
		cb.stateCounter.Inc(context.Background(),
			metrics.L(LabelKey, name),
			metrics.L(LabelFromState, fromGobreakerState(from).String()),
			metrics.L(LabelToState, fromGobreakerState(to).String()))
	}
}

// recordMetrics 记录请求指标
func (cb *circuitBreaker) recordMetrics(ctx context.Context, key string, err error, duration time.Duration) {
	if cb.durationHist != nil {
		cb.durationHist.Record(ctx, duration.Seconds(), metrics.L(LabelKey, key))
	}

	if cb.requestsCounter == nil {
		return
	}

	outcome := "success"
	switch {
	case err == nil:
	case xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "rejected"
	default:
		outcome = "failure"
	}
	cb.requestsCounter.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelOutcome, outcome))
}

// fromGobreakerState 将 gobreaker.State 转换为 State
func fromGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
