// Package metrics provides Prometheus-based recording for event routing,
// stage transitions, LLM calls and reply sizes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "worldweaver"

// PrometheusRecorder implements the orchestrator, stage handler and LLM
// observer interfaces on its own registry.
type PrometheusRecorder struct {
	registry         *prometheus.Registry
	eventsTotal      *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	llmRequestsTotal *prometheus.CounterVec
	llmDuration      prometheus.Histogram
	replyBytes       prometheus.Histogram
	shortenAttempts  prometheus.Histogram
}

// NewPrometheusRecorder creates a recorder with a fresh registry that also
// carries the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Inbound events by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Conversation stage transitions",
			},
			[]string{"from", "to"},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "LLM completion requests by status",
			},
			[]string{"status"},
		),
		llmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM completion requests in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		replyBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_bytes",
			Help:      "Size of posted replies in bytes",
			Buckets:   []float64{64, 128, 256, 400, 512, 768, 1024},
		}),
		shortenAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shorten_attempts",
			Help:      "Generation attempts needed to fit a multiplayer reply",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}
}

// RecordEvent counts one handled event.
func (p *PrometheusRecorder) RecordEvent(route, outcome string) {
	p.eventsTotal.WithLabelValues(route, outcome).Inc()
}

// RecordStageTransition counts one stage change.
func (p *PrometheusRecorder) RecordStageTransition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveLLMRequest records a completed LLM call.
func (p *PrometheusRecorder) ObserveLLMRequest(status string, duration time.Duration) {
	p.llmRequestsTotal.WithLabelValues(status).Inc()
	p.llmDuration.Observe(duration.Seconds())
}

// ObserveReplyBytes records the size of a posted reply.
func (p *PrometheusRecorder) ObserveReplyBytes(n int) {
	p.replyBytes.Observe(float64(n))
}

// ObserveShortenAttempts records how many ladder attempts a reply needed.
func (p *PrometheusRecorder) ObserveShortenAttempts(n int) {
	p.shortenAttempts.Observe(float64(n))
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
