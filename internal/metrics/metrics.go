// Package metrics exposes Prometheus counters for order intake and reply handling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_orders_total",
			Help: "Total number of inbound orders labeled by result",
		},
		[]string{"result"},
	)
	intentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_intents_total",
			Help: "Total number of classified replies labeled by intent",
		},
		[]string{"intent"},
	)
	ignoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_messages_ignored_total",
			Help: "Total number of inbound messages ignored labeled by reason",
		},
		[]string{"reason"},
	)
	dispatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderpipe_dispatch_failures_total",
			Help: "Total number of failed outbound sends labeled by step",
		},
		[]string{"step"},
	)
)

// RecordOrder counts an order acceptance attempt.
func RecordOrder(result string) {
	ordersTotal.WithLabelValues(orUnknown(result)).Inc()
}

// RecordIntent counts a classified reply.
func RecordIntent(intent string) {
	intentsTotal.WithLabelValues(orUnknown(intent)).Inc()
}

// RecordIgnored counts an inbound message that produced no reply.
func RecordIgnored(reason string) {
	ignoredTotal.WithLabelValues(orUnknown(reason)).Inc()
}

// RecordDispatchFailure counts a failed outbound send.
func RecordDispatchFailure(step string) {
	dispatchFailuresTotal.WithLabelValues(orUnknown(step)).Inc()
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
