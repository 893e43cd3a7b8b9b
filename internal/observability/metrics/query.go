package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// QueryMetrics records routing decisions, query outcomes and reasoning
// provider calls for one service.
type QueryMetrics struct {
	service string

	routeTotal     *prometheus.CounterVec
	queryTotal     *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	queryDocuments *prometheus.HistogramVec
	reasoningCalls *prometheus.CounterVec
}

func NewQueryMetrics(service string, registerer prometheus.Registerer) *QueryMetrics {
	routeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by intent and source.",
		},
		[]string{"service", "intent", "source"},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "answers_total",
			Help:      "Answered queries by intent and outcome.",
		},
		[]string{"service", "intent", "outcome"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"service", "intent"},
	)
	queryDocuments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "documents",
			Help:      "Documents attached to each answer.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
		[]string{"service", "intent"},
	)
	reasoningCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "reasoning",
			Name:      "calls_total",
			Help:      "Reasoning provider calls by provider and status.",
		},
		[]string{"service", "provider", "status"},
	)

	registerer.MustRegister(routeTotal, queryTotal, queryDuration, queryDocuments, reasoningCalls)

	return &QueryMetrics{
		service:        service,
		routeTotal:     routeTotal,
		queryTotal:     queryTotal,
		queryDuration:  queryDuration,
		queryDocuments: queryDocuments,
		reasoningCalls: reasoningCalls,
	}
}

func (m *QueryMetrics) ObserveRoute(decision domain.RoutingDecision) {
	source := string(decision.Source)
	if source == "" {
		source = "unknown"
	}
	m.routeTotal.WithLabelValues(m.service, string(decision.Intent), source).Inc()
}

func (m *QueryMetrics) ObserveQuery(intent domain.Intent, outcome domain.Outcome, documents int, duration time.Duration) {
	m.queryTotal.WithLabelValues(m.service, string(intent), string(outcome)).Inc()
	m.queryDuration.WithLabelValues(m.service, string(intent)).Observe(duration.Seconds())
	m.queryDocuments.WithLabelValues(m.service, string(intent)).Observe(float64(documents))
}

func (m *QueryMetrics) ObserveReasoningCall(provider, status string) {
	if provider == "" {
		provider = "unknown"
	}
	m.reasoningCalls.WithLabelValues(m.service, provider, status).Inc()
}
