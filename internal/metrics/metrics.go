package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reorderAttempts counts commit attempts made by reorder transactions.
	// Labels: kind (column, card), op (create, move)
	reorderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Subsystem: "reorder",
		Name:      "attempts_total",
		Help:      "Commit attempts made by reorder transactions",
	}, []string{"kind", "op"})

	// reorderCollisions counts commits rejected by the sibling key index.
	reorderCollisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Subsystem: "reorder",
		Name:      "collisions_total",
		Help:      "Order key collisions that forced a retry",
	}, []string{"kind", "op"})

	// reorderOutcomes counts finished transactions.
	// Labels: outcome (ok, invalid_anchor, invalid_move, precondition_failed, conflict, not_found, error)
	reorderOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Subsystem: "reorder",
		Name:      "outcomes_total",
		Help:      "Finished reorder transactions by outcome",
	}, []string{"kind", "op", "outcome"})

	reorderKeyLength = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kanban",
		Subsystem: "reorder",
		Name:      "key_length",
		Help:      "Length of order keys produced by reorder transactions",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
	}, []string{"kind"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kanban",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kanban",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	idempotencyReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kanban",
		Subsystem: "idempotency",
		Name:      "replays_total",
		Help:      "Responses served from the idempotency cache",
	})
)

func ReorderAttempt(kind, op string) {
	reorderAttempts.WithLabelValues(kind, op).Inc()
}

func ReorderCollision(kind, op string) {
	reorderCollisions.WithLabelValues(kind, op).Inc()
}

func ReorderOutcome(kind, op, outcome string) {
	reorderOutcomes.WithLabelValues(kind, op, outcome).Inc()
}

func ReorderKeyLength(kind string, length int) {
	reorderKeyLength.WithLabelValues(kind).Observe(float64(length))
}

// HTTPRequest records one finished request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func IdempotencyReplay() {
	idempotencyReplays.Inc()
}
