package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(llmTokens, llmCallSeconds, llmInFlight)
}

var (
	llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the LLM per provider/model and kind (prompt|completion).",
		},
		[]string{"provider", "model", "kind"},
	)

	// local inference is slow; buckets reach two hours
	llmCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_seconds",
			Help:      "LLM call latency in seconds.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"provider", "model", "success"},
	)

	llmInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "llm_in_flight",
			Help:      "LLM calls currently holding a concurrency slot.",
		},
	)
)

func ObserveLLMCall(provider, model string, promptTokens, completionTokens int, latency time.Duration, success bool) {
	p, m := norm(provider), norm(model)
	llmTokens.WithLabelValues(p, m, "prompt").Add(float64(promptTokens))
	llmTokens.WithLabelValues(p, m, "completion").Add(float64(completionTokens))
	llmCallSeconds.WithLabelValues(p, m, strconv.FormatBool(success)).Observe(latency.Seconds())
}

func IncLLMInFlight() { llmInFlight.Inc() }
func DecLLMInFlight() { llmInFlight.Dec() }
