package relay

import (
	"context"
	"net/http"

	"github.com/ceyewan/msgrelay/retry"
	"github.com/ceyewan/msgrelay/xerrors"
)

// 错误定义
//
// 错误分类决定传播路径：可重试错误由重试执行器在预算内吸收，
// 耗尽后作为一次失败计入熔断器；熔断打开不会作为硬错误上抛，
// 只体现为兜底回答。
var (
	// ErrDepsIncomplete 必填协作方缺失
	ErrDepsIncomplete = xerrors.New("relay: required collaborator missing")

	// ErrTransientNetwork 瞬态网络错误（连接拒绝/重置，可重试）
	ErrTransientNetwork = xerrors.New("relay: transient network error")

	// ErrRateLimited 被限流拒绝（下游 429 可重试退避；入站拒绝为终态）
	ErrRateLimited = xerrors.New("relay: rate limited")

	// ErrServer 下游服务端错误（5xx，可重试）
	ErrServer = xerrors.New("relay: server error")

	// ErrClient 下游客户端错误（除 429 外的 4xx，不可重试，立即上抛）
	ErrClient = xerrors.New("relay: client error")

	// ErrSignatureRejected 签名校验未通过，请求在任何副作用前被拒绝
	ErrSignatureRejected = xerrors.New("relay: signature rejected")

	// ErrNormalization 负载归一化失败（不重试）
	ErrNormalization = xerrors.New("relay: normalization failed")

	// ErrPartialDelivery 分段回复部分投递失败
	ErrPartialDelivery = xerrors.New("relay: partial delivery")
)

// Classify 将下游 HTTP 状态码映射到错误分类
//
// 2xx 返回 nil；429 → ErrRateLimited；其余 4xx → ErrClient；
// 5xx 及其他 → ErrServer。
func Classify(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return xerrors.Wrapf(ErrRateLimited, "status %d", statusCode)
	case statusCode >= 400 && statusCode < 500:
		return xerrors.Wrapf(ErrClient, "status %d", statusCode)
	default:
		return xerrors.Wrapf(ErrServer, "status %d", statusCode)
	}
}

// Retryable 判定错误是否可重试，作为默认的 retry.Policy.ShouldRetry
//
// 客户端错误与归一化失败不重试；超时、瞬态网络、限流与服务端
// 错误重试；未知错误按瞬态处理。
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case xerrors.Is(err, context.Canceled):
		return false
	case xerrors.Is(err, ErrClient), xerrors.Is(err, ErrNormalization):
		return false
	case xerrors.Is(err, retry.ErrTimeout),
		xerrors.Is(err, ErrTransientNetwork),
		xerrors.Is(err, ErrRateLimited),
		xerrors.Is(err, ErrServer):
		return true
	default:
		return true
	}
}
