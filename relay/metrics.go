package relay

// 指标名称
const (
	// MetricEventsTotal 入站事件总数
	MetricEventsTotal = "relay_events_total"

	// MetricMessagesTotal 处理消息总数
	MetricMessagesTotal = "relay_messages_total"

	// MetricChunksSentTotal 成功发出的分段总数
	MetricChunksSentTotal = "relay_chunks_sent_total"

	// MetricPipelineDuration 单事件流水线耗时（秒）
	MetricPipelineDuration = "relay_pipeline_duration_seconds"
)

// 指标标签
const (
	// LabelOutcome 终态 (done/failed)
	LabelOutcome = "outcome"

	// LabelStage 失败阶段 (rate_checked/authenticated/normalized/...)
	LabelStage = "stage"

	// LabelFallback 是否使用了兜底回答 (true/false)
	LabelFallback = "fallback"
)
