package retry

import "github.com/ceyewan/msgrelay/xerrors"

// 错误定义
var (
	// ErrTimeout 单次尝试超过 Policy.Timeout 未返回
	ErrTimeout = xerrors.New("retry: operation timed out")

	// ErrOperationNil 操作为空
	ErrOperationNil = xerrors.New("retry: operation is nil")
)
