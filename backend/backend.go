// Package backend 提供后端查询服务的 HTTP 客户端。
//
// backend 实现 relay.QueryClient：将规范消息以 JSON POST 到查询
// 服务，取回回答文本。下游状态码经 relay.Classify 映射到错误分类，
// 供重试执行器按可重试性判定；网络层错误映射为瞬态网络错误。
//
// 客户端自身不做重试与熔断，这两者由编排层的弹性组件负责。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/xerrors"
)

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("backend: config is nil")

	// ErrBaseURLEmpty 查询服务地址未配置
	ErrBaseURLEmpty = xerrors.New("backend: base url is empty")

	// ErrBadResponse 查询服务返回了无法解析的响应体
	ErrBadResponse = xerrors.New("backend: bad response body")
)

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 后端客户端配置
type Config struct {
	// BaseURL 查询服务地址（如 "http://backend:9000"）
	BaseURL string `json:"base_url" yaml:"base_url"`

	// QueryPath 查询接口路径（默认："/query"）
	QueryPath string `json:"query_path" yaml:"query_path"`

	// Timeout 整个 HTTP 往返的超时时间（默认：10s）
	// 通常应大于编排层重试策略的单次尝试超时。
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// setDefaults 填充默认值
func (c *Config) setDefaults() {
	if c.QueryPath == "" {
		c.QueryPath = "/query"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

// validate 验证配置
func (c *Config) validate() error {
	if c.BaseURL == "" {
		return ErrBaseURLEmpty
	}
	return nil
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建后端查询客户端
//
// 参数:
//   - cfg: 客户端配置
//   - opts: 可选参数 (Logger)
func New(cfg *Config, opts ...Option) (relay.QueryClient, error) {
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
	logger = logger.With(clog.String("component", "backend"))

	httpClient := opt.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + cfg.QueryPath,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// client 后端查询客户端实现（非导出）
type client struct {
	cfg        *Config
	endpoint   string
	httpClient *http.Client
	logger     clog.Logger
}

// queryResponse 查询服务的响应体
type queryResponse struct {
	Answer string `json:"answer"`
}

// Query 转发规范消息，返回回答文本
func (c *client) Query(ctx context.Context, msg relay.Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", xerrors.Wrap(err, "backend: marshal query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", xerrors.Wrap(err, "backend: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 连接拒绝、重置、DNS 失败等网络层错误均为瞬态
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", xerrors.Wrapf(relay.ErrTransientNetwork, "query %s: %v", c.endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend query completed",
		clog.Int("status", resp.StatusCode),
		clog.Duration("elapsed", time.Since(start)))

	if err := relay.Classify(resp.StatusCode); err != nil {
		// 排空响应体以便连接复用
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", err
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return "", xerrors.Wrapf(ErrBadResponse, "decode: %v", err)
	}
	return qr.Answer, nil
}
