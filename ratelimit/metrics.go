package ratelimit

// 指标名称
const (
	// MetricAllowed 允许的请求数
	MetricAllowed = "ratelimit_allowed_total"

	// MetricDenied 拒绝的请求数
	MetricDenied = "ratelimit_denied_total"

	// MetricFailovers 主后端故障切换次数
	MetricFailovers = "ratelimit_failovers_total"
)

// 指标标签
const (
	// LabelMode 限流器形态 (distributed/standalone)
	LabelMode = "mode"
)
