// Package server 提供 msgrelay 的 HTTP 入口。
//
// server 是 msgrelay 的传输层，它提供了：
// - POST /webhook：接收平台事件投递，读取原始请求体后立即返回
//   200 确认，流水线处理在独立 goroutine 中异步进行——按平台约定，
//   投递方只关心确认，不关心处理结果
// - GET /webhook：订阅验证端点，预共享验证令牌匹配时回显挑战串
// - GET /healthz：存活探针
// - GET /metrics：Prometheus 抓取端点
//
// 入站限流由流水线在签名校验之前执行（POST 路径）；验证端点
// 另挂一层 IP 限流中间件，防挑战洪泛。
//
// ## 基本使用
//
//	srv, _ := server.New(cfg, pipe, server.WithLogger(logger), server.WithMeter(meter))
//
//	go func() { _ = srv.Start() }()
//	<-ctx.Done()
//	_ = srv.Shutdown(shutdownCtx)
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/msgrelay/clog"
	"github.com/ceyewan/msgrelay/ratelimit"
	"github.com/ceyewan/msgrelay/relay"
	"github.com/ceyewan/msgrelay/xerrors"
)

// 错误定义
var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("server: config is nil")

	// ErrPipelineNil 流水线为空
	ErrPipelineNil = xerrors.New("server: pipeline is nil")
)

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config HTTP 服务配置
type Config struct {
	// Addr 监听地址（默认：":8080"）
	Addr string `json:"addr" yaml:"addr"`

	// VerifyToken 订阅验证的预共享令牌
	VerifyToken string `json:"verify_token" yaml:"verify_token"`

	// SignatureHeader 签名头名称（默认："X-Hub-Signature-256"）
	SignatureHeader string `json:"signature_header" yaml:"signature_header"`

	// ProcessTimeout 单事件异步处理的超时时间（默认：60s）
	ProcessTimeout time.Duration `json:"process_timeout" yaml:"process_timeout"`

	// VerifyRateLimit 验证端点的 IP 限流规则；零值时不限流
	VerifyRateLimit ratelimit.Limit `json:"verify_rate_limit" yaml:"verify_rate_limit"`

	// Debug 启用 Gin 调试模式（默认：false，Release 模式）
	Debug bool `json:"debug" yaml:"debug"`
}

// setDefaults 填充默认值
func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Hub-Signature-256"
	}
	if c.ProcessTimeout == 0 {
		c.ProcessTimeout = 60 * time.Second
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// Server HTTP 服务
type Server struct {
	cfg      *Config
	pipe     relay.Pipeline
	logger   clog.Logger
	engine   *gin.Engine
	httpSrv  *http.Server
	inflight sync.WaitGroup
}

// New 创建 HTTP 服务
//
// 参数:
//   - cfg: 服务配置
//   - pipe: 事件编排流水线
//   - opts: 可选参数 (Logger, Meter, Limiter)
func New(cfg *Config, pipe relay.Pipeline, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if pipe == nil {
		return nil, ErrPipelineNil
	}
	cfg.setDefaults()

	opt := options{}
	for _, o := range opts {
		o(&opt)
	}

	logger := opt.logger
	if logger == nil {
		logger = clog.Discard()
	}
	logger = logger.With(clog.String("component", "server"))

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		pipe:   pipe,
		logger: logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	verifyHandlers := []gin.HandlerFunc{s.handleVerify}
	if opt.limiter != nil {
		verifyHandlers = append([]gin.HandlerFunc{
			ratelimit.GinMiddleware(opt.limiter, nil, cfg.VerifyRateLimit),
		}, verifyHandlers...)
	}

	engine.GET("/webhook", verifyHandlers...)
	engine.POST("/webhook", s.handleWebhook)
	engine.GET("/healthz", s.handleHealthz)
	if opt.meter != nil {
		engine.GET("/metrics", gin.WrapH(opt.meter.Handler()))
	}

	s.engine = engine
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: engine,
	}
	return s, nil
}

// Start 启动 HTTP 服务并阻塞，直到 Shutdown 或监听失败
func (s *Server) Start() error {
	s.logger.Info("http server starting", clog.String("addr", s.cfg.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "server: listen")
	}
	return nil
}

// Shutdown 优雅停机：停止接收新连接，等待在途事件处理完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	err := s.httpSrv.Shutdown(ctx)

	// 等待异步流水线排空，受同一个 ctx 约束
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with inflight events remaining")
	}
	return err
}

// Handler 返回底层 http.Handler（测试用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ========================================
// 路由处理 (Handlers)
// ========================================

// handleVerify 订阅验证：令牌匹配时回显挑战串
func (s *Server) handleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.cfg.VerifyToken {
		s.logger.Info("webhook verification succeeded")
		c.String(http.StatusOK, challenge)
		return
	}

	s.logger.Warn("webhook verification rejected",
		clog.String("mode", mode),
		clog.String("remote_ip", c.ClientIP()))
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// handleWebhook 事件投递：立即确认，异步处理
//
// 确认与处理结果无关：投递方收到 200 即视为送达，处理失败
// 通过日志与指标暴露，不向投递方传播。
func (s *Server) handleWebhook(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	inbound := &relay.Inbound{
		RemoteIP:  c.ClientIP(),
		Signature: c.GetHeader(s.cfg.SignatureHeader),
		RawBody:   rawBody,
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
		defer cancel()

		// 结果已在流水线内部记录日志与指标
		_ = s.pipe.Process(ctx, inbound)
	}()

	c.String(http.StatusOK, "EVENT_RECEIVED")
}

// handleHealthz 存活探针
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
