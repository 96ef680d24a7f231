// Package metrics holds the Prometheus collectors shared by the client,
// the stream readers and the dispatcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hieratika",
		Name:      "client_requests_total",
		Help:      "Requests issued to the Hieratika server by endpoint and outcome.",
	}, []string{"path", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hieratika",
		Name:      "client_request_duration_seconds",
		Help:      "Latency of requests issued to the Hieratika server.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hieratika",
		Name:      "push_messages_total",
		Help:      "Push messages received by kind.",
	}, []string{"kind"})

	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hieratika",
		Name:      "dispatch_updates_total",
		Help:      "Widget updates applied or dropped by the dispatcher.",
	}, []string{"result"})

	syncFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hieratika",
		Name:      "sync_flushes_total",
		Help:      "Batched schedule updates sent to the server.",
	})
)

// Outcome labels for ObserveRequest.
const (
	OutcomeOK           = "ok"
	OutcomeRejected     = "rejected"
	OutcomeInvalidToken = "invalid_token"
	OutcomeTransport    = "transport"
)

// ObserveRequest records one request to path.
func ObserveRequest(path, outcome string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(path, outcome).Inc()
	requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// ObserveMessage records one received push message.
func ObserveMessage(kind string) {
	messagesTotal.WithLabelValues(kind).Inc()
}

// ObserveDispatch records n widget updates with the given result
// ("applied" or "dropped").
func ObserveDispatch(result string, n int) {
	if n <= 0 {
		return
	}
	dispatchedTotal.WithLabelValues(result).Add(float64(n))
}

// ObserveFlush records one batched schedule update.
func ObserveFlush() {
	syncFlushesTotal.Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
