package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Cycles                 *prometheus.CounterVec
	Messages               *prometheus.CounterVec
	Classifications        *prometheus.CounterVec
	ClassificationFailures prometheus.Counter
	AutoActions            *prometheus.CounterVec
	MailboxInvalidations   prometheus.Counter
	CycleDuration          prometheus.Histogram
	OutboundSends          *prometheus.CounterVec
}

// NewMetrics registers the metrics on reg. Tests pass a private registry;
// production uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_cycles_total",
			Help: "Total number of mailbox sync cycles by result",
		}, []string{"result"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_messages_total",
			Help: "Total number of fetched messages by outcome",
		}, []string{"outcome"}),
		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_classifications_total",
			Help: "Total number of stored classifications",
		}, []string{"method", "classification"}),
		ClassificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_sync_classification_failures_total",
			Help: "Total number of classifications left pending after a failure",
		}),
		AutoActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_auto_actions_total",
			Help: "Total number of auto-actions applied",
		}, []string{"action"}),
		MailboxInvalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "inbox_sync_mailbox_invalidations_total",
			Help: "Total number of mailbox connections invalidated after an auth failure",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inbox_sync_cycle_duration_seconds",
			Help:    "Time spent syncing one mailbox",
			Buckets: prometheus.DefBuckets,
		}),
		OutboundSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sync_outbound_sends_total",
			Help: "Total number of outbound step sends by result",
		}, []string{"result"}),
	}
}
