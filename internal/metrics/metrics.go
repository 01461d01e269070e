// ABOUTME: Prometheus collectors for session persistence, transactions, and replies
// ABOUTME: Init registers them once; recording before Init is harmless

package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paybot_session_flushes_total",
			Help: "Total number of session records written to the store",
		},
		[]string{"result"},
	)

	sessionLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paybot_session_loads_total",
			Help: "Total number of session records loaded from the store",
		},
		[]string{"result"},
	)

	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paybot_transactions_total",
			Help: "Total number of transactions submitted",
		},
		[]string{"result"},
	)

	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paybot_replies_total",
			Help: "Total number of outbound replies",
		},
		[]string{"result"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paybot_events_total",
			Help: "Total number of inbound events by outcome",
		},
		[]string{"outcome"},
	)

	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paybot_dispatch_duration_seconds",
			Help:    "Time spent handling one inbound event",
			Buckets: prometheus.DefBuckets,
		},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionFlushesTotal,
			sessionLoadsTotal,
			transactionsTotal,
			repliesTotal,
			eventsTotal,
			dispatchDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordFlush counts one session save.
func RecordFlush(err error) {
	sessionFlushesTotal.WithLabelValues(result(err)).Inc()
}

// RecordLoad counts one session load.
func RecordLoad(err error) {
	sessionLoadsTotal.WithLabelValues(result(err)).Inc()
}

// RecordTransaction counts one transaction attempt. result is "ok", "error" or "rejected".
func RecordTransaction(result string) {
	transactionsTotal.WithLabelValues(result).Inc()
}

// RecordReply counts one reply attempt.
func RecordReply(err error) {
	repliesTotal.WithLabelValues(result(err)).Inc()
}

// RecordEvent counts one inbound event. outcome is e.g. "handled", "duplicate", "error".
func RecordEvent(outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDispatch records how long one event took to handle.
func ObserveDispatch(seconds float64) {
	dispatchDuration.Observe(seconds)
}
