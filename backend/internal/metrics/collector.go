// Package metrics exposes Prometheus metrics for the HTTP surface, agent
// turns and model calls.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dune-rag/backend/internal/adapter"
)

// Collector owns a private registry so several collectors can coexist in tests
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector registering under namespace
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_turns_total",
				Help:      "Agent turns by selected tool and outcome",
			},
			[]string{"tool", "status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_turn_duration_seconds",
				Help:      "Agent turn duration in seconds",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"tool"},
		),
		llmRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests",
			},
			[]string{"model", "status"},
		),
		llmRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "LLM request duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordHTTPRequest records one served request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTurn records one agent turn; tool is empty for direct answers
func (c *Collector) RecordTurn(tool string, err error, duration time.Duration) {
	if tool == "" {
		tool = "none"
	}
	c.turnsTotal.WithLabelValues(tool, status(err)).Inc()
	c.turnDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLLMRequest records one model call
func (c *Collector) RecordLLMRequest(model string, err error, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(model, status(err)).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ChatModel wraps a chat model and records every call
type ChatModel struct {
	next      adapter.ChatModel
	fallback  string
	collector *Collector
}

// InstrumentChatModel returns next wrapped with call metrics. defaultModel
// labels requests that leave the model to the adapter.
func InstrumentChatModel(next adapter.ChatModel, defaultModel string, c *Collector) *ChatModel {
	return &ChatModel{next: next, fallback: defaultModel, collector: c}
}

// Complete implements adapter.ChatModel
func (m *ChatModel) Complete(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	model := req.Model
	if model == "" {
		model = m.fallback
	}
	start := time.Now()
	resp, err := m.next.Complete(ctx, req)
	m.collector.RecordLLMRequest(model, err, time.Since(start))
	return resp, err
}
