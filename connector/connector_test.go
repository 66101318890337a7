package connector

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_Config(t *testing.T) {
	t.Run("nil 配置返回错误", func(t *testing.T) {
		_, err := NewRedis(nil)
		assert.Error(t, err)
	})

	t.Run("缺失地址返回错误", func(t *testing.T) {
		_, err := NewRedis(&RedisConfig{})
		assert.Error(t, err)
	})

	t.Run("默认值填充", func(t *testing.T) {
		cfg := &RedisConfig{Addr: "127.0.0.1:6379"}
		conn, err := NewRedis(cfg)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "redis", conn.Name())
		assert.Equal(t, 10, cfg.PoolSize)
		assert.Equal(t, 5*time.Second, cfg.DialTimeout)
		assert.False(t, conn.IsHealthy(), "连接前应为不健康状态")
	})
}

// 集成测试：需要设置 RELAY_TEST_REDIS_ADDR 指向可用的 Redis
func TestRedisConnector_Integration(t *testing.T) {
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}

	conn, err := NewRedis(&RedisConfig{Addr: addr, Name: "it"})
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()

	t.Run("Connect 幂等且更新健康状态", func(t *testing.T) {
		require.NoError(t, conn.Connect(ctx))
		require.NoError(t, conn.Connect(ctx))
		assert.True(t, conn.IsHealthy())
	})

	t.Run("HealthCheck 正常", func(t *testing.T) {
		assert.NoError(t, conn.HealthCheck(ctx))
	})
}
