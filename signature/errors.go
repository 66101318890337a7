package signature

import "github.com/ceyewan/msgrelay/xerrors"

// 错误定义
var (
	// ErrNoSecret 共享密钥未配置（配置错误，区别于签名拒绝）
	ErrNoSecret = xerrors.New("signature: secret not configured")

	// ErrSignatureMissing 请求未携带签名头
	ErrSignatureMissing = xerrors.New("signature: header missing")

	// ErrSignatureInvalid 签名与请求体不匹配
	ErrSignatureInvalid = xerrors.New("signature: invalid")

	// ErrUnsupportedScheme 不支持的摘要算法
	ErrUnsupportedScheme = xerrors.New("signature: unsupported scheme")
)
