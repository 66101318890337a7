package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/metrics"
)

// window 一个限流标识在当前窗口内的计数
type window struct {
	count   int
	resetAt time.Time
}

// standaloneLimiter 单机限流器实现（非导出）
//
// 计数仅在本进程内有效：多副本部署时每个副本独立计数。
type standaloneLimiter struct {
	cfg    *StandaloneConfig
	logger clog.Logger

	mu      sync.Mutex
	windows map[string]*window
	stopCh  chan struct{}

	// 指标
	allowedCounter metrics.Counter
	deniedCounter  metrics.Counter
}

// newStandalone 创建单机限流器（内部函数）
func newStandalone(cfg *StandaloneConfig, logger clog.Logger, meter metrics.Meter) (Limiter, error) {
	l := &standaloneLimiter{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
	}

	if meter != nil {
		l.allowedCounter, _ = meter.Counter(MetricAllowed, "Number of allowed requests", LabelMode)
		l.deniedCounter, _ = meter.Counter(MetricDenied, "Number of denied requests", LabelMode)
	}

	go l.cleanup(cfg.CleanupInterval)

	logger.Info("standalone rate limiter created",
		clog.Duration("cleanup_interval", cfg.CleanupInterval))

	return l, nil
}

// Allow 判定当前窗口内是否允许再发起一次请求
//
// 互斥锁保证自增并比较的原子性；窗口过期后由下一次请求重建。
func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if key == "" {
		return Decision{}, ErrKeyEmpty
	}
	if !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	now := time.Now()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}
	w.count++
	count := w.count
	resetAt := w.resetAt
	l.mu.Unlock()

	decision := Decision{Allowed: count <= limit.Requests}
	if decision.Allowed {
		decision.Remaining = limit.Requests - count
	} else {
		decision.RetryAfter = resetAt.Sub(now)
	}

	l.record(ctx, key, decision)

	return decision, nil
}

// record 记录判定的日志与指标
func (l *standaloneLimiter) record(ctx context.Context, key string, decision Decision) {
	if decision.Allowed {
		if l.allowedCounter != nil {
			l.allowedCounter.Inc(ctx, metrics.L(LabelMode, "standalone"))
		}
	} else {
		if l.deniedCounter != nil {
			l.deniedCounter.Inc(ctx, metrics.L(LabelMode, "standalone"))
		}
	}

	l.logger.Debug("rate limit check",
		clog.String("mode", "standalone"),
		clog.String("key", key),
		clog.Bool("allowed", decision.Allowed),
		clog.Int("remaining", decision.Remaining),
		clog.Duration("retry_after", decision.RetryAfter))
}

// cleanup 定期清理过期的窗口
func (l *standaloneLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			count := 0

			l.mu.Lock()
			for key, w := range l.windows {
				if !now.Before(w.resetAt) {
					delete(l.windows, key)
					count++
				}
			}
			l.mu.Unlock()

			if count > 0 {
				l.logger.Debug("cleaned up expired windows", clog.Int("count", count))
			}

		case <-l.stopCh:
			return
		}
	}
}

// Close 关闭限流器
func (l *standaloneLimiter) Close() error {
	close(l.stopCh)
	return nil
}
