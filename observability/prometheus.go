package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory backed by a prometheus.Registry.
// Metric names are sanitized ("." becomes "_") to satisfy the Prometheus
// naming rules, so "reconcile.events.recorded" is exposed as
// "reconcile_events_recorded".
type PrometheusFactory struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

var _ MetricFactory = (*PrometheusFactory)(nil)

// NewPrometheusFactory creates a factory with its own registry.
func NewPrometheusFactory() *PrometheusFactory {
	return NewPrometheusFactoryWith(prometheus.NewRegistry())
}

// NewPrometheusFactoryWith creates a factory registering metrics on the
// provided registry.
func NewPrometheusFactoryWith(reg *prometheus.Registry) *PrometheusFactory {
	return &PrometheusFactory{
		registry:   reg,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// Registry returns the underlying registry for use with promhttp.HandlerFor.
func (f *PrometheusFactory) Registry() *prometheus.Registry { return f.registry }

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := sanitizeMetricName(name)
	if c, ok := f.counters[key]; ok {
		return promCounter{c}
	}

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: key,
		Help: name,
	})
	f.registry.MustRegister(c)
	f.counters[key] = c
	return promCounter{c}
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := sanitizeMetricName(name)
	if h, ok := f.histograms[key]; ok {
		return promHistogram{h}
	}

	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    key,
		Help:    name,
		Buckets: prometheus.DefBuckets,
	})
	f.registry.MustRegister(h)
	f.histograms[key] = h
	return promHistogram{h}
}

type promCounter struct {
	c prometheus.Counter
}

func (p promCounter) Inc()          { p.c.Inc() }
func (p promCounter) Add(v float64) { p.c.Add(v) }

type promHistogram struct {
	h prometheus.Histogram
}

func (p promHistogram) Observe(v float64) { p.h.Observe(v) }

func sanitizeMetricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
