// msgrelay 服务入口：加载配置，装配弹性组件与编排流水线，
// 启动 HTTP 服务并处理优雅停机。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceyewan/msgrelay/backend"
	"github.com/ceyewan/msgrelay/breaker"
	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/config"
	"github.com/ceyewan/msgrelay/connector"
	"github.com/ceyewan/msgrelay/metrics"
	"github.com/ceyewan/msgrelay/platform"
	"github.com/ceyewan/msgrelay/ratelimit"
	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/retry"
	"github.com/ceyewan/msgrelay/server"
	"github.com/ceyewan/msgrelay/signature"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（空时按默认位置查找）")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "msgrelay:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()

	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.WithNamespace("msgrelay")

	// 配置热更新目前只接管日志级别；其余组件持有启动时的快照
	loader.Watch(func(next *config.AppConfig) {
		if level, perr := clog.ParseLevel(next.Log.Level); perr == nil {
			_ = logger.SetLevel(level)
		}
	})

	meter, err := metrics.New(&cfg.Metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 限流器：Redis 可用走分布式，故障自动降级单机；
	// Redis 未启用或启动时不可达则直接单机运行。
	limiter, cleanup, err := buildLimiter(ctx, cfg, logger, meter)
	if err != nil {
		return err
	}
	defer cleanup()

	validator, err := signature.New(&cfg.Signature, signature.WithLogger(logger))
	if err != nil {
		return err
	}

	brk, err := breaker.New(&cfg.Breaker, breaker.WithLogger(logger), breaker.WithMeter(meter))
	if err != nil {
		return err
	}

	exec, err := retry.New(retry.WithLogger(logger), retry.WithMeter(meter))
	if err != nil {
		return err
	}

	queryClient, err := backend.New(&cfg.Backend, backend.WithLogger(logger))
	if err != nil {
		return err
	}

	channelClient, err := platform.NewChannel(&cfg.Channel, platform.WithLogger(logger))
	if err != nil {
		return err
	}

	pipe, err := relay.New(&cfg.Relay, &relay.Deps{
		Normalizer: platform.NewNormalizer(),
		Query:      queryClient,
		Channel:    channelClient,
		Validator:  validator,
		Limiter:    limiter,
		Breaker:    brk,
		Retry:      exec,
	}, relay.WithLogger(logger), relay.WithMeter(meter))
	if err != nil {
		return err
	}

	srv, err := server.New(&cfg.Server, pipe,
		server.WithLogger(logger),
		server.WithMeter(meter),
		server.WithLimiter(limiter))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildLimiter 装配限流器与其资源清理函数
//
// Redis 启用且可连通：分布式为主、单机为降级的 failover 限流器；
// 其余情况：纯单机限流器。启动时 Redis 不可达不致命，记告警后
// 单机运行（多副本限额随之放宽，属接受的退化）。
func buildLimiter(ctx context.Context, cfg *config.AppConfig, logger clog.Logger, meter metrics.Meter) (ratelimit.Limiter, func(), error) {
	local, err := ratelimit.NewStandalone(nil, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Redis.Enabled {
		return local, func() { _ = local.Close() }, nil
	}

	redisConn, err := connector.NewRedis(&cfg.Redis.RedisConfig, connector.WithLogger(logger))
	if err != nil {
		logger.Warn("redis connector unavailable, rate limiting runs standalone", clog.Error(err))
		return local, func() { _ = local.Close() }, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	defer cancel()
	if err := redisConn.Connect(connectCtx); err != nil {
		logger.Warn("redis unreachable at startup, rate limiting runs standalone", clog.Error(err))
		_ = redisConn.Close()
		return local, func() { _ = local.Close() }, nil
	}

	dist, err := ratelimit.NewDistributed(redisConn, nil, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
	if err != nil {
		_ = redisConn.Close()
		return nil, nil, err
	}

	limiter, err := ratelimit.NewFailover(dist, local, nil, ratelimit.WithLogger(logger), ratelimit.WithMeter(meter))
	if err != nil {
		_ = redisConn.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = limiter.Close()
		_ = redisConn.Close()
	}
	return limiter, cleanup, nil
}
