package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceyewan/msgrelay/xerrors"
)

// promMeter Meter 的 prometheus 实现（非导出）
type promMeter struct {
	cfg      *Config
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*counterVec
	histograms map[string]*histogramVec
}

func newPromMeter(cfg *Config) *promMeter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())

	return &promMeter{
		cfg:        cfg,
		registry:   registry,
		counters:   make(map[string]*counterVec),
		histograms: make(map[string]*histogramVec),
	}
}

func (m *promMeter) Counter(name, help string, labelNames ...string) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[name]; ok {
		return c, nil
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.cfg.Namespace,
		Name:      name,
		Help:      help,
	}, labelNames)

	if err := m.registry.Register(vec); err != nil {
		return nil, xerrors.Wrapf(err, "metrics: register counter %s", name)
	}

	c := &counterVec{vec: vec, labelNames: labelNames}
	m.counters[name] = c
	return c, nil
}

func (m *promMeter) Histogram(name, help string, labelNames ...string) (Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[name]; ok {
		return h, nil
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.cfg.Namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labelNames)

	if err := m.registry.Register(vec); err != nil {
		return nil, xerrors.Wrapf(err, "metrics: register histogram %s", name)
	}

	h := &histogramVec{vec: vec, labelNames: labelNames}
	m.histograms[name] = h
	return h, nil
}

func (m *promMeter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// toPromLabels 将观测时的标签映射到声明的标签名，缺失的记为空串
func toPromLabels(labelNames []string, labels []Label) prometheus.Labels {
	out := make(prometheus.Labels, len(labelNames))
	for _, name := range labelNames {
		out[name] = ""
	}
	for _, l := range labels {
		if _, ok := out[l.Key]; ok {
			out[l.Key] = l.Value
		}
	}
	return out
}

type counterVec struct {
	vec        *prometheus.CounterVec
	labelNames []string
}

func (c *counterVec) Inc(ctx context.Context, labels ...Label) {
	c.vec.With(toPromLabels(c.labelNames, labels)).Inc()
}

func (c *counterVec) Add(ctx context.Context, value float64, labels ...Label) {
	if value < 0 {
		return
	}
	c.vec.With(toPromLabels(c.labelNames, labels)).Add(value)
}

type histogramVec struct {
	vec        *prometheus.HistogramVec
	labelNames []string
}

func (h *histogramVec) Record(ctx context.Context, value float64, labels ...Label) {
	h.vec.With(toPromLabels(h.labelNames, labels)).Observe(value)
}
