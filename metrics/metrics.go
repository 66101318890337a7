// Package metrics 提供统一的指标收集能力。
//
// 基于 prometheus/client_golang 构建，提供简洁的 Counter、Histogram 指标接口。
// 指标通过 Meter.Handler() 暴露为标准的 Prometheus 抓取端点。
//
// 快速开始：
//
//	meter, _ := metrics.New(&metrics.Config{Namespace: "msgrelay"})
//
//	counter, _ := meter.Counter("relay_events_total", "Inbound events", "outcome")
//	counter.Inc(ctx, metrics.L("outcome", "done"))
//
//	histogram, _ := meter.Histogram("backend_duration_seconds", "Backend latency", "dependency")
//	histogram.Record(ctx, 0.123, metrics.L("dependency", "backend"))
//
// 暴露端点：
//
//	r.GET("/metrics", gin.WrapH(meter.Handler()))
package metrics

import (
	"context"
	"net/http"
)

// Label 指标标签（键值对）
type Label struct {
	Key   string
	Value string
}

// L 创建一个标签
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// Counter 计数器接口
// 用于记录只能增加的累计值，例如请求数、错误次数、重试次数等
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)

	// Add 将计数器增加指定值（必须为非负数）
	Add(ctx context.Context, value float64, labels ...Label)
}

// Histogram 直方图接口
// 用于记录数值分布，例如请求耗时、消息长度等
type Histogram interface {
	// Record 记录一个观测值
	Record(ctx context.Context, value float64, labels ...Label)
}

// Meter 指标工厂接口
//
// Counter/Histogram 按名称幂等：同名重复创建返回同一个底层指标。
// 标签名必须在创建时声明，观测时提供的标签以声明的名字为准，
// 缺失的标签记为空串。
type Meter interface {
	Counter(name, help string, labelNames ...string) (Counter, error)
	Histogram(name, help string, labelNames ...string) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点的 http.Handler
	Handler() http.Handler
}

// Config 指标配置
type Config struct {
	// Namespace 指标名前缀（默认：空，不加前缀）
	Namespace string `json:"namespace" yaml:"namespace"`
}

// New 创建 Meter 实例
//
// cfg 为 nil 时使用默认配置。
func New(cfg *Config) (Meter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	return newPromMeter(cfg), nil
}
