package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/xerrors"
)

// flakyLimiter 可控故障的限流器桩
type flakyLimiter struct {
	failing atomic.Bool
	calls   atomic.Int32
	inner   Limiter
}

func (f *flakyLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return Decision{}, xerrors.New("store unreachable")
	}
	return f.inner.Allow(ctx, key, limit)
}

func (f *flakyLimiter) Close() error { return f.inner.Close() }

func newFailoverFixture(t *testing.T, probeInterval time.Duration) (*flakyLimiter, Limiter) {
	t.Helper()

	logger, _ := clog.New(&clog.Config{Level: "error"})

	primaryInner, err := NewStandalone(nil, WithLogger(logger))
	require.NoError(t, err)
	primary := &flakyLimiter{inner: primaryInner}

	local, err := NewStandalone(nil, WithLogger(logger))
	require.NoError(t, err)

	limiter, err := NewFailover(primary, local, &FailoverConfig{
		ProbeInterval: probeInterval,
	}, WithLogger(logger))
	require.NoError(t, err)

	t.Cleanup(func() { _ = limiter.Close() })
	return primary, limiter
}

func TestFailover_New(t *testing.T) {
	t.Run("缺失后端返回错误", func(t *testing.T) {
		_, err := NewFailover(nil, nil, nil)
		assert.ErrorIs(t, err, ErrLimiterNil)
	})
}

func TestFailover_PrimaryHealthy(t *testing.T) {
	primary, limiter := newFailoverFixture(t, time.Minute)
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, "k", Limit{Requests: 10, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestFailover_StoreOutage(t *testing.T) {
	ctx := context.Background()

	t.Run("主后端故障时请求路径不报错", func(t *testing.T) {
		primary, limiter := newFailoverFixture(t, time.Minute)
		primary.failing.Store(true)

		decision, err := limiter.Allow(ctx, "k", Limit{Requests: 2, Window: time.Minute})
		require.NoError(t, err, "存储故障应降级，而不是让请求路径报错")
		assert.True(t, decision.Allowed)
	})

	t.Run("降级后仍然执行限流", func(t *testing.T) {
		primary, limiter := newFailoverFixture(t, time.Minute)
		primary.failing.Store(true)
		limit := Limit{Requests: 1, Window: time.Minute}

		d1, err := limiter.Allow(ctx, "k", limit)
		require.NoError(t, err)
		d2, err := limiter.Allow(ctx, "k", limit)
		require.NoError(t, err)

		assert.True(t, d1.Allowed)
		assert.False(t, d2.Allowed, "本地计数仍应拒绝超限请求")
	})

	t.Run("探测间隔内不再访问主后端", func(t *testing.T) {
		primary, limiter := newFailoverFixture(t, time.Minute)
		primary.failing.Store(true)
		limit := Limit{Requests: 100, Window: time.Minute}

		_, _ = limiter.Allow(ctx, "k", limit)
		callsAfterFailure := primary.calls.Load()

		for i := 0; i < 5; i++ {
			_, _ = limiter.Allow(ctx, "k", limit)
		}
		assert.Equal(t, callsAfterFailure, primary.calls.Load())
	})

	t.Run("探测间隔过后自动恢复主后端", func(t *testing.T) {
		primary, limiter := newFailoverFixture(t, 30*time.Millisecond)
		primary.failing.Store(true)
		limit := Limit{Requests: 100, Window: time.Minute}

		_, _ = limiter.Allow(ctx, "k", limit)
		primary.failing.Store(false)

		time.Sleep(50 * time.Millisecond)

		_, err := limiter.Allow(ctx, "k", limit)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, primary.calls.Load(), int32(2), "恢复后应重新使用主后端")
	})
}
