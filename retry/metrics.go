package retry

// 指标名称
const (
	// MetricAttempts 尝试总数
	MetricAttempts = "retry_attempts_total"

	// MetricAttemptDuration 单次尝试耗时（秒）
	MetricAttemptDuration = "retry_attempt_duration_seconds"
)

// 指标标签
const (
	// LabelName 调用点标识
	LabelName = "name"

	// LabelOutcome 尝试结果 (success/error/timeout)
	LabelOutcome = "outcome"
)
