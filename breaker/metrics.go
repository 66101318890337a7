package breaker

// 指标名称
const (
	// MetricRequestsTotal 请求总数
	MetricRequestsTotal = "breaker_requests_total"

	// MetricStateChanges 状态变更次数
	MetricStateChanges = "breaker_state_changes_total"

	// MetricRequestDuration 请求耗时（秒）
	MetricRequestDuration = "breaker_request_duration_seconds"
)

// 指标标签
const (
	// LabelKey 熔断键（下游依赖名）
	LabelKey = "key"

	// LabelOutcome 请求结果 (success/failure/rejected)
	LabelOutcome = "outcome"

	// LabelFromState 变更前状态
	LabelFromState = "from"

	// LabelToState 变更后状态
	LabelToState = "to"
)
