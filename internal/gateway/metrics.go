package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tjfontaine/polyglot-llm-tester/internal/domain"
)

var (
	metricCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_tester",
		Name:      "completions_total",
		Help:      "Upstream completion attempts by endpoint and result.",
	}, []string{"endpoint", "result"})

	metricLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "llm_tester",
		Name:      "completion_latency_seconds",
		Help:      "Wall-clock latency of upstream completion calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	}, []string{"endpoint"})

	metricTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_tester",
		Name:      "tokens_total",
		Help:      "Tokens reported by the upstream, by endpoint and kind.",
	}, []string{"endpoint", "kind"})
)

func observeSuccess(outcome *domain.Outcome, latency time.Duration) {
	metricCompletions.WithLabelValues(outcome.EndpointID, "success").Inc()
	metricLatency.WithLabelValues(outcome.EndpointID).Observe(latency.Seconds())
	if outcome.Usage != nil {
		metricTokens.WithLabelValues(outcome.EndpointID, "prompt").Add(float64(outcome.Usage.PromptTokens))
		metricTokens.WithLabelValues(outcome.EndpointID, "completion").Add(float64(outcome.Usage.CompletionTokens))
	}
}

func observeFailure(endpointID string, errType domain.ErrorType, latency time.Duration) {
	metricCompletions.WithLabelValues(endpointID, string(errType)).Inc()
	metricLatency.WithLabelValues(endpointID).Observe(latency.Seconds())
}
