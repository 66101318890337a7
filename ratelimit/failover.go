package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/xerrors"
)

// failoverLimiter 降级限流器实现（非导出）
//
// 主后端出错后的 ProbeInterval 内直接走降级后端，避免每个请求
// 都撞一次故障的存储；间隔过后下一次请求重新尝试主后端，
// 恢复无需重启进程。同一个键在同一时刻只由一个后端计数。
type failoverLimiter struct {
	cfg      *FailoverConfig
	primary  Limiter
	fallback Limiter
	logger   clog.Logger

	mu        sync.Mutex
	downUntil time.Time

	// 指标
	failoverCounter metrics.Counter
}

// newFailover 创建降级限流器（内部函数）
func newFailover(
	cfg *FailoverConfig,
	primary, fallback Limiter,
	logger clog.Logger,
	meter metrics.Meter,
) (Limiter, error) {
	l := &failoverLimiter{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}

	if meter != nil {
		l.failoverCounter, _ = meter.Counter(MetricFailovers, "Rate limiter failovers to local counting")
	}

	logger.Info("failover rate limiter created",
		clog.Duration("probe_interval", cfg.ProbeInterval))

	return l, nil
}

// Allow 判定当前窗口内是否允许再发起一次请求
//
// 主后端的系统错误绝不会传播给调用方：出错即降级到本地计数。
func (l *failoverLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if key == "" {
		return Decision{}, ErrKeyEmpty
	}
	if !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	if l.primaryAvailable() {
		decision, err := l.primary.Allow(ctx, key, limit)
		if err == nil {
			return decision, nil
		}

		l.markDown()
		l.logger.Warn("primary rate limit store unavailable, falling back to local counting",
			clog.String("key", key),
			clog.Error(err))

		if l.failoverCounter != nil {
			l.failoverCounter.Inc(ctx)
		}
	}

	return l.fallback.Allow(ctx, key, limit)
}

// primaryAvailable 判断主后端当前是否可用（基于上次故障时间）
func (l *failoverLimiter) primaryAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !time.Now().Before(l.downUntil)
}

// markDown 标记主后端故障，ProbeInterval 内不再尝试
func (l *failoverLimiter) markDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downUntil = time.Now().Add(l.cfg.ProbeInterval)
}

// Close 关闭两个后端
func (l *failoverLimiter) Close() error {
	return xerrors.Combine(l.primary.Close(), l.fallback.Close())
}
