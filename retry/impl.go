package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/xerrors"
)

// executor 重试执行器实现（非导出）
type executor struct {
	logger clog.Logger

	// 指标
	attemptsCounter metrics.Counter
	durationHist    metrics.Histogram
}

// newExecutor 创建重试执行器（内部函数）
func newExecutor(logger clog.Logger, meter metrics.Meter) (Executor, error) {
	e := &executor{logger: logger}

	if meter != nil {
		e.attemptsCounter, _ = meter.Counter(MetricAttempts, "Retry attempts", LabelName, LabelOutcome)
		e.durationHist, _ = meter.Histogram(MetricAttemptDuration, "Attempt duration in seconds", LabelName)
	}

	return e, nil
}

// Do 按策略执行 op
func (e *executor) Do(ctx context.Context, name string, op Operation, policy Policy) (any, error) {
	if op == nil {
		return nil, ErrOperationNil
	}
	policy.setDefaults()

	schedule := newSchedule(policy)
	attempts := policy.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		result, err := e.attempt(ctx, op, policy.Timeout)
		elapsed := time.Since(start)

		e.observe(ctx, name, attempt, err, elapsed)

		if err == nil {
			return result, nil
		}
		lastErr = err

		// 父 context 已取消：不再重试，直接返回
		if ctx.Err() != nil {
			return nil, xerrors.Combine(lastErr, ctx.Err())
		}

		if !retryable(policy, err) {
			e.logger.Debug("error not retryable, giving up",
				clog.String("name", name),
				clog.Int("attempt", attempt),
				clog.Error(err))
			break
		}

		// 最后一次尝试之后不再等待
		if attempt == attempts {
			break
		}

		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			break
		}

		e.logger.Debug("retry scheduled",
			clog.String("name", name),
			clog.Int("attempt", attempt),
			clog.Duration("delay", delay),
			clog.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, xerrors.Wrapf(lastErr, "retry: %s exhausted %d attempts", name, attempts)
}

// attempt 执行单次尝试，应用单次超时
//
// 结果通道带缓冲：超时后 op 的迟到结果写入缓冲即被丢弃，
// 不会阻塞 op 的 goroutine，也不会影响任何外部状态。
func (e *executor) attempt(ctx context.Context, op Operation, timeout time.Duration) (any, error) {
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := op(attemptCtx)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if timeout > 0 && xerrors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrTimeout
		}
		return nil, attemptCtx.Err()
	}
}

// observe 上报单次尝试的日志与指标
// 上报失败不影响执行器的正确性
func (e *executor) observe(ctx context.Context, name string, attempt int, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if xerrors.Is(err, ErrTimeout) {
			outcome = "timeout"
		}
	}

	if e.attemptsCounter != nil {
		e.attemptsCounter.Inc(ctx, metrics.L(LabelName, name), metrics.L(LabelOutcome, outcome))
	}
	if e.durationHist != nil {
		e.durationHist.Record(ctx, elapsed.Seconds(), metrics.L(LabelName, name))
	}

	if err != nil {
		e.logger.Debug("attempt finished",
			clog.String("name", name),
			clog.Int("attempt", attempt),
			clog.String("outcome", outcome),
			clog.Duration("elapsed", elapsed),
			clog.Error(err))
	} else {
		e.logger.Debug("attempt finished",
			clog.String("name", name),
			clog.Int("attempt", attempt),
			clog.String("outcome", outcome),
			clog.Duration("elapsed", elapsed))
	}
}

// retryable 判定错误是否可重试
func retryable(policy Policy, err error) bool {
	if xerrors.Is(err, context.Canceled) {
		return false
	}
	if policy.ShouldRetry != nil {
		return policy.ShouldRetry(err)
	}
	return true
}

// newSchedule 根据策略构建重试间隔序列
func newSchedule(p Policy) backoff.BackOff {
	switch p.Backoff {
	case BackoffExponential:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.Delay
		b.MaxInterval = p.MaxDelay
		b.RandomizationFactor = 0.25
		b.Multiplier = 2.0
		b.Reset()
		return b
	default:
		return backoff.NewConstantBackOff(p.Delay)
	}
}
