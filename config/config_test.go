package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  addr: ":9090"
  verify_token: "verify-1"

log:
  level: debug
  format: json

redis:
  enabled: true
  addr: "redis:6379"
  pool_size: 20

signature:
  secret: "top-secret"
  scheme: sha256

breaker:
  failure_threshold: 3
  success_threshold: 2
  open_timeout: 10s
  call_timeout: 5s

relay:
  fallback_answer: "busy"
  chunk_max_length: 2000
  inter_chunk_delay: 250ms
  rate_limit:
    requests: 20
    window: 1m
  query_policy:
    timeout: 5s
    max_retries: 2
    delay: 200ms
    backoff: 1

backend:
  base_url: "http://backend:9000"
  timeout: 8s

channel:
  base_url: "https://graph.example.com/v17.0"
  access_token: "channel-token"
  hard_max_length: 2000
  send_rate: 2
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("完整文件加载", func(t *testing.T) {
		cfg, err := Load(writeTestConfig(t, testYAML))
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, "verify-1", cfg.Server.VerifyToken)
		assert.Equal(t, "debug", cfg.Log.Level)

		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 20, cfg.Redis.PoolSize)

		assert.Equal(t, "top-secret", cfg.Signature.Secret)
		assert.Equal(t, uint32(3), cfg.Breaker.FailureThreshold)
		assert.Equal(t, 10*time.Second, cfg.Breaker.OpenTimeout)

		assert.Equal(t, "busy", cfg.Relay.FallbackAnswer)
		assert.Equal(t, 2000, cfg.Relay.ChunkMaxLength)
		assert.Equal(t, 250*time.Millisecond, cfg.Relay.InterChunkDelay)
		assert.Equal(t, 20, cfg.Relay.RateLimit.Requests)
		assert.Equal(t, time.Minute, cfg.Relay.RateLimit.Window)
		assert.Equal(t, 2, cfg.Relay.QueryPolicy.MaxRetries)
		assert.Equal(t, 5*time.Second, cfg.Relay.QueryPolicy.Timeout)

		assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
		assert.Equal(t, 8*time.Second, cfg.Backend.Timeout)
		assert.Equal(t, "channel-token", cfg.Channel.AccessToken)
		assert.Equal(t, float64(2), cfg.Channel.SendRate)
	})

	t.Run("文件不存在返回错误", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yaml")
		assert.Error(t, err)
	})

	t.Run("环境变量覆盖文件值", func(t *testing.T) {
		t.Setenv("RELAY_SERVER_ADDR", ":7070")
		t.Setenv("RELAY_SIGNATURE_SECRET", "env-secret")

		cfg, err := Load(writeTestConfig(t, testYAML))
		require.NoError(t, err)
		assert.Equal(t, ":7070", cfg.Server.Addr)
		assert.Equal(t, "env-secret", cfg.Signature.Secret)
	})

	t.Run("畸形 YAML 返回错误", func(t *testing.T) {
		_, err := Load(writeTestConfig(t, "server: [not a map"))
		assert.Error(t, err)
	})
}

func TestLoader_Watch(t *testing.T) {
	path := writeTestConfig(t, testYAML)
	loader, err := NewLoader(path)
	require.NoError(t, err)

	reloaded := make(chan *AppConfig, 1)
	loader.Watch(func(next *AppConfig) {
		select {
		case reloaded <- next:
		default:
		}
	})

	require.NoError(t, os.WriteFile(path, []byte(testYAML+"\nmetrics:\n  namespace: changed\n"), 0o600))

	select {
	case next := <-reloaded:
		assert.Equal(t, "changed", next.Metrics.Namespace)
		assert.Equal(t, "changed", loader.Config().Metrics.Namespace)
	case <-time.After(3 * time.Second):
		t.Skip("文件事件未送达（CI 文件系统差异），跳过")
	}
}
