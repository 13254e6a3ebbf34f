package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(chatRequestsTotal, chatRequestSeconds, workerQueueDepth, sweeperActions)
}

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by lifecycle event (submitted|complete|error|rejected).",
		},
		[]string{"event"},
	)

	chatRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_request_seconds",
			Help:      "Time from submission to terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"status"},
	)

	workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_queue_depth",
			Help:      "Units of work waiting for a worker.",
		},
	)

	sweeperActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_actions_total",
			Help:      "Requests touched by the recovery sweeper, by action (redispatched|failed_stale|deleted).",
		},
		[]string{"action"},
	)
)

func IncChatRequest(event string) {
	chatRequestsTotal.WithLabelValues(norm(event)).Inc()
}

func ObserveChatRequest(status string, sinceSubmit time.Duration) {
	chatRequestSeconds.WithLabelValues(norm(status)).Observe(sinceSubmit.Seconds())
}

func SetWorkerQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}

func AddSweeperAction(action string, n int64) {
	if n <= 0 {
		return
	}
	sweeperActions.WithLabelValues(norm(action)).Add(float64(n))
}
