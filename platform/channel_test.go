package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/msgrelay/relay"
)

func newTestChannel(t *testing.T, baseURL string, mutate func(*ChannelConfig)) relay.ChannelClient {
	t.Helper()

	cfg := &ChannelConfig{
		BaseURL:     baseURL,
		AccessToken: "token-1",
		Timeout:     2 * time.Second,
		SendRate:    1000, // 测试中不节流
		SendBurst:   100,
	}
	if mutate != nil {
		mutate(cfg)
	}

	c, err := NewChannel(cfg)
	require.NoError(t, err)
	return c
}

func TestNewChannel(t *testing.T) {
	t.Run("nil 配置返回错误", func(t *testing.T) {
		_, err := NewChannel(nil)
		assert.ErrorIs(t, err, ErrConfigNil)
	})

	t.Run("地址未配置返回错误", func(t *testing.T) {
		_, err := NewChannel(&ChannelConfig{})
		assert.ErrorIs(t, err, ErrBaseURLEmpty)
	})
}

func TestSend(t *testing.T) {
	t.Run("请求体与访问令牌正确", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/me/messages", r.URL.Path)
			assert.Equal(t, "token-1", r.URL.Query().Get("access_token"))

			var got sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, "u1", got.Recipient.ID)
			assert.Equal(t, "RESPONSE", got.MessagingType)
			assert.Equal(t, "Hi", got.Message.Text)
		}))
		defer srv.Close()

		c := newTestChannel(t, srv.URL, nil)
		assert.NoError(t, c.Send(context.Background(), "u1", "Hi"))
	})

	t.Run("超过硬性长度上限直接拒绝", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		c := newTestChannel(t, srv.URL, func(cfg *ChannelConfig) { cfg.HardMaxLength = 10 })
		err := c.Send(context.Background(), "u1", strings.Repeat("x", 11))

		assert.ErrorIs(t, err, ErrTextTooLong)
		assert.ErrorIs(t, err, relay.ErrClient, "超限是客户端错误，不应重试")
		assert.False(t, called, "超限不应触达平台接口")
	})

	t.Run("5xx 映射为服务端错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestChannel(t, srv.URL, nil)
		assert.ErrorIs(t, c.Send(context.Background(), "u1", "Hi"), relay.ErrServer)
	})

	t.Run("连接拒绝映射为瞬态网络错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c := newTestChannel(t, srv.URL, nil)
		assert.ErrorIs(t, c.Send(context.Background(), "u1", "Hi"), relay.ErrTransientNetwork)
	})

	t.Run("节流遵守 ctx 取消", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		// 低速率 + 无突发余量：第二次 Send 需等待令牌
		c := newTestChannel(t, srv.URL, func(cfg *ChannelConfig) {
			cfg.SendRate = 0.1
			cfg.SendBurst = 1
		})
		require.NoError(t, c.Send(context.Background(), "u1", "first"))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := c.Send(ctx, "u1", "second")
		assert.Error(t, err)
	})
}
