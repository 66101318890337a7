// Package connector 提供统一的连接管理能力。
//
// 核心特性：
//   - 统一抽象：通过 Connector 接口提供一致的连接管理 API
//   - 健康检查：HealthCheck 主动探测，IsHealthy 返回缓存状态
//   - 并发安全：所有公开方法均为并发安全
//   - 资源管理：遵循"谁创建，谁负责释放"原则，Close() 应在应用层调用
//
// 设计理念：
//   - 显式依赖注入：通过构造函数注入依赖，避免全局状态
//   - 幂等连接：Connect() 方法可安全重复调用
//   - 延迟连接：NewRedis() 创建连接器但不立即建立连接，Connect() 时才连接
//
// 基本使用：
//
//	conn, err := connector.NewRedis(&connector.RedisConfig{
//		Addr: "127.0.0.1:6379",
//	}, connector.WithLogger(logger))
//	if err != nil {
//		panic(err)
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		// 连接失败不一定致命：依赖方（如限流器）可以降级运行
//	}
//
// 资源所有权：
//
//	Connector 拥有底层连接的生命周期。组件（如 ratelimit）仅借用
//	Connector，不应调用 Close()。
package connector

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Connector 定义所有连接器的通用行为。
type Connector interface {
	// Connect 建立连接。幂等，可安全多次调用。
	Connect(ctx context.Context) error

	// Close 关闭连接并释放资源。幂等。
	Close() error

	// HealthCheck 主动探测连接健康状态，并更新缓存状态。
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回缓存的健康状态（不发起网络请求）。
	IsHealthy() bool

	// Name 返回连接器名称。
	Name() string
}

// RedisConnector Redis 连接器接口
type RedisConnector interface {
	Connector

	// GetClient 返回底层 Redis 客户端
	GetClient() *redis.Client
}
