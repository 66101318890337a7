// Package signature 提供入站请求体的 HMAC 签名校验。
//
// signature 是 msgrelay 的请求认证组件，它提供了：
// - 基于共享密钥的 HMAC-SHA256（或 SHA1）摘要计算
// - 常数时间比较，避免时序侧信道
// - 失败关闭：缺失或畸形的签名头一律拒绝
// - 密钥未配置作为独立的配置错误信号，由编排层按部署策略处理
//
// ## 基本使用
//
//	v, _ := signature.New(&signature.Config{Secret: secret})
//
//	if err := v.Verify(rawBody, c.GetHeader("X-Hub-Signature-256")); err != nil {
//		// 拒绝请求
//	}
//
// 校验必须在任何 JSON 反序列化之前、对收到的原始字节进行：
// 重新编码会改变键序与空白，使摘要失效。
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/ceyewan/msgrelay/clog"
)

// ========================================
// 接口定义 (Interface Definitions)
// ========================================

// Validator 签名校验器核心接口
type Validator interface {
	// Verify 校验签名头是否与原始请求体匹配
	// rawBody: 收到的原始字节（任何反序列化之前）
	// headerSignature: 请求头携带的签名，形如 "sha256=<hex>"
	// 返回: nil 表示有效；ErrSignatureInvalid / ErrSignatureMissing
	// 表示拒绝；ErrNoSecret 表示密钥未配置（配置错误，区别于拒绝）
	Verify(rawBody []byte, headerSignature string) error

	// Sign 计算请求体的签名（含 scheme 前缀），用于出站请求或测试
	Sign(rawBody []byte) (string, error)
}

// ========================================
// 配置定义 (Configuration)
// ========================================

// Config 签名校验配置
type Config struct {
	// Secret 共享密钥
	Secret string `json:"secret" yaml:"secret"`

	// Scheme 摘要算法：sha256 或 sha1（默认：sha256）
	Scheme string `json:"scheme" yaml:"scheme"`
}

// setDefaults 填充默认值
func (c *Config) setDefaults() {
	if c.Scheme == "" {
		c.Scheme = "sha256"
	}
	c.Scheme = strings.ToLower(c.Scheme)
}

// validate 验证配置
func (c *Config) validate() error {
	switch c.Scheme {
	case "sha256", "sha1":
		return nil
	default:
		return ErrUnsupportedScheme
	}
}

// ========================================
// 工厂函数 (Factory Functions)
// ========================================

// New 创建签名校验器
//
// 密钥为空不是创建错误：Verify 时返回 ErrNoSecret，
// 由编排层决定拒绝还是告警放行。
func New(cfg *Config, opts ...Option) (Validator, error) {
	if cfg == nil {
		cfg = &Config{}
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
	logger = logger.With(clog.String("component", "signature"))

	if cfg.Secret == "" {
		logger.Warn("signature secret not configured, all verifications will fail with ErrNoSecret")
	}

	return &validator{cfg: cfg, logger: logger}, nil
}

// validator 签名校验器实现（非导出）
type validator struct {
	cfg    *Config
	logger clog.Logger
}

// Verify 校验签名头是否与原始请求体匹配
func (v *validator) Verify(rawBody []byte, headerSignature string) error {
	if v.cfg.Secret == "" {
		return ErrNoSecret
	}
	if headerSignature == "" {
		return ErrSignatureMissing
	}

	expected, err := v.Sign(rawBody)
	if err != nil {
		return err
	}

	// hmac.Equal 为常数时间比较；两侧均为本地计算的定长十六进制
	// 摘要与请求方提供的字符串，不会因长度差异泄露密钥信息。
	if !hmac.Equal([]byte(expected), []byte(headerSignature)) {
		v.logger.Debug("signature mismatch",
			clog.Int("body_bytes", len(rawBody)),
			clog.String("scheme", v.cfg.Scheme))
		return ErrSignatureInvalid
	}

	return nil
}

// Sign 计算请求体的签名（含 scheme 前缀）
func (v *validator) Sign(rawBody []byte) (string, error) {
	if v.cfg.Secret == "" {
		return "", ErrNoSecret
	}

	var mac hash.Hash
	switch v.cfg.Scheme {
	case "sha1":
		mac = hmac.New(sha1.New, []byte(v.cfg.Secret))
	default:
		mac = hmac.New(sha256.New, []byte(v.cfg.Secret))
	}

	mac.Write(rawBody)
	return v.cfg.Scheme + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}
