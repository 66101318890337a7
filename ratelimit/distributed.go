package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/connector"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/xerrors"
)

// luaScript 固定窗口计数的 Lua 脚本
//
// INCR 与 PEXPIRE 在脚本内原子执行，保证多副本并发下
// "自增并比较" 的原子性。窗口由第一个请求创建，过期后自动消失。
const luaScript = `
-- KEYS[1]: 限流窗口的唯一键
-- ARGV[1]: 窗口长度（毫秒）

local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  -- 窗口键意外无过期时间（例如被外部写入），重新设置
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end

return {count, ttl}
`

// distributedLimiter 分布式限流器实现（非导出）
type distributedLimiter struct {
	client *redis.Client
	prefix string
	logger clog.Logger
	script *redis.Script

	// 指标
	allowedCounter metrics.Counter
	deniedCounter  metrics.Counter
}

// newDistributed 创建分布式限流器（内部函数）
func newDistributed(
	cfg *DistributedConfig,
	redisConn connector.RedisConnector,
	logger clog.Logger,
	meter metrics.Meter,
) (Limiter, error) {
	l := &distributedLimiter{
		client: redisConn.GetClient(),
		prefix: cfg.Prefix,
		logger: logger,
		script: redis.NewScript(luaScript),
	}

	if meter != nil {
		l.allowedCounter, _ = meter.Counter(MetricAllowed, "Number of allowed requests", LabelMode)
		l.deniedCounter, _ = meter.Counter(MetricDenied, "Number of denied requests", LabelMode)
	}

	logger.Info("distributed rate limiter created", clog.String("prefix", cfg.Prefix))

	return l, nil
}

// Allow 判定当前窗口内是否允许再发起一次请求
func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (Decision, error) {
	if key == "" {
		return Decision{}, ErrKeyEmpty
	}
	if !limit.valid() {
		return Decision{}, ErrInvalidLimit
	}

	fullKey := l.prefix + key

	result, err := l.script.Run(ctx, l.client, []string{fullKey}, limit.Window.Milliseconds()).Result()
	if err != nil {
		l.logger.Error("failed to execute lua script",
			clog.String("key", key),
			clog.Error(err))
		return Decision{}, xerrors.Wrap(err, "execute lua script")
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return Decision{}, xerrors.New("invalid lua script result")
	}

	count, ok := resultSlice[0].(int64)
	if !ok {
		return Decision{}, xerrors.New("invalid count value")
	}
	ttlMillis, ok := resultSlice[1].(int64)
	if !ok {
		ttlMillis = limit.Window.Milliseconds()
	}

	decision := Decision{Allowed: count <= int64(limit.Requests)}
	if decision.Allowed {
		decision.Remaining = limit.Requests - int(count)
	} else {
		decision.RetryAfter = time.Duration(ttlMillis) * time.Millisecond
	}

	l.record(ctx, "distributed", key, decision)

	return decision, nil
}

// record 记录判定的日志与指标
func (l *distributedLimiter) record(ctx context.Context, mode, key string, decision Decision) {
	if decision.Allowed {
		if l.allowedCounter != nil {
			l.allowedCounter.Inc(ctx, metrics.L(LabelMode, mode))
		}
	} else {
		if l.deniedCounter != nil {
			l.deniedCounter.Inc(ctx, metrics.L(LabelMode, mode))
		}
	}

	l.logger.Debug("rate limit check",
		clog.String("mode", mode),
		clog.String("key", key),
		clog.Bool("allowed", decision.Allowed),
		clog.Int("remaining", decision.Remaining),
		clog.Duration("retry_after", decision.RetryAfter))
}

// Close 释放资源（分布式连接由 Connector 管理）
func (l *distributedLimiter) Close() error {
	return nil
}
