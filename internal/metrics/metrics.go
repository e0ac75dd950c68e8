// Package metrics 定义服务暴露的 Prometheus 指标。所有方法对 nil 接收者安全，未启用指标时可直接传 nil。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cardfinder"

// Outcome 标签取值。
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)

// Metrics 持有独立的注册表及各项指标。
type Metrics struct {
	registry         *prometheus.Registry
	retrievals       *prometheus.CounterVec
	retrievalLatency prometheus.Histogram
	toolCalls        *prometheus.CounterVec
	turns            *prometheus.CounterVec
}

// New 创建指标并注册到私有注册表。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retrievals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_requests_total",
				Help:      "Total number of card retrieval requests",
			},
			[]string{"outcome"},
		),
		retrievalLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_duration_seconds",
				Help:      "Card retrieval latency including query embedding",
				Buckets:   prometheus.DefBuckets,
			},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls made by the assistant",
			},
			[]string{"tool"},
		),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_turns_total",
				Help:      "Total number of conversation turns",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.retrievals,
		m.retrievalLatency,
		m.toolCalls,
		m.turns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRetrieval 记录一次检索的结果与耗时。
func (m *Metrics) ObserveRetrieval(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievalLatency.Observe(elapsed.Seconds())
}

// IncToolCall 记录一次工具调用。
func (m *Metrics) IncToolCall(tool string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool).Inc()
}

// IncTurn 记录一次对话轮次。
func (m *Metrics) IncTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// Handler 返回 /metrics 的 HTTP 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
