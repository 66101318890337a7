package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/xerrors"
)

// ========================================
// 配置定义 (Configuration)
// ========================================

// ChannelConfig 出站通道客户端配置
type ChannelConfig struct {
	// BaseURL 平台开放接口地址（如 "https://graph.facebook.com/v17.0"）
	BaseURL string `json:"base_url" yaml:"base_url"`

	// AccessToken 平台访问令牌
	AccessToken string `json:"access_token" yaml:"access_token"`

	// SendPath 发送接口路径（默认："/me/messages"）
	SendPath string `json:"send_path" yaml:"send_path"`

	// Timeout 整个 HTTP 往返的超时时间（默认：10s）
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// HardMaxLength 通道的硬性长度上限（字符数，默认：2000）
	// 超限直接拒绝，不截断——分段应在编排层完成。
	HardMaxLength int `json:"hard_max_length" yaml:"hard_max_length"`

	// SendRate 每秒最大发送条数（默认：5）
	SendRate float64 `json:"send_rate" yaml:"send_rate"`

	// SendBurst 突发额度（默认：1）
	SendBurst int `json:"send_burst" yaml:"send_burst"`
}

// setDefaults 填充默认值
func (c *ChannelConfig) setDefaults() {
	if c.SendPath == "" {
		c.SendPath = "/me/messages"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HardMaxLength == 0 {
		c.HardMaxLength = 2000
	}
	if c.SendRate <= 0 {
		c.SendRate = 5
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
}

// validate 验证配置
func (c *ChannelConfig) validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLEmpty
	}
	return nil
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// NewChannel 创建出站通道客户端
//
// 所有 Send 共享同一个令牌桶限速器，跨消息、跨事件统一节流，
// 与编排层的段间延迟相互独立。
//
// 参数:
//   - cfg: 通道配置
//   - opts: 可选参数 (Logger, HTTPClient)
func NewChannel(cfg *ChannelConfig, opts ...Option) (relay.ChannelClient, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "platform"))

	httpClient := opt.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &channelClient{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + cfg.SendPath,
		httpClient: httpClient,
		pacer:      rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		logger:     logger,
	}, nil
}

// channelClient 出站通道客户端实现（非导出）
type channelClient struct {
	cfg        *ChannelConfig
	endpoint   string
	httpClient *http.Client
	pacer      *rate.Limiter
	logger     clog.Logger
}

// sendRequest 平台发送接口的请求体
type sendRequest struct {
	Recipient     participant `json:"recipient"`
	MessagingType string      `json:"messaging_type"`
	Message       struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send 向指定接收者发送一段文本
func (c *channelClient) Send(ctx context.Context, recipient, text string) error {
	if chars := len([]rune(text)); chars > c.cfg.HardMaxLength {
		return xerrors.Wrapf(xerrors.Join(ErrTextTooLong, relay.ErrClient),
			"%d chars over limit %d", chars, c.cfg.HardMaxLength)
	}

	// 出站节流：阻塞到令牌可用或 ctx 取消
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	payload := sendRequest{
		Recipient:     participant{ID: recipient},
		MessagingType: "RESPONSE",
	}
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(err, "platform: marshal send request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(err, "platform: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	q := req.URL.Query()
	q.Set("access_token", c.cfg.AccessToken)
	req.URL.RawQuery = q.Encode()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return xerrors.Wrapf(relay.ErrTransientNetwork, "send to %s: %v", recipient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	c.logger.Debug("channel send completed",
		clog.String("recipient", recipient),
		clog.Int("status", resp.StatusCode),
		clog.Int("text_chars", len([]rune(text))),
		clog.Duration("elapsed", time.Since(start)))

	return relay.Classify(resp.StatusCode)
}
