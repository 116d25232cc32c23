package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery pipeline metrics
type Metrics struct {
	// Dispatch metrics
	EntriesSent         prometheus.Counter
	EntriesFailed       prometheus.Counter
	RateDeferrals       prometheus.Counter
	TenantsSkipped      prometheus.Counter
	SweepDuration       prometheus.Histogram
	GatewayCallDuration *prometheus.HistogramVec

	// Scheduler metrics
	ContentQueued prometheus.Counter

	// Campaign metrics
	CampaignsStarted   prometheus.Counter
	CampaignsCompleted prometheus.Counter
}

// NewMetrics creates and registers all delivery pipeline metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EntriesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_sent_total",
			Help:      "Total number of queue entries delivered to the gateway",
		}),
		EntriesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_failed_total",
			Help:      "Total number of queue entries that failed delivery",
		}),
		RateDeferrals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_deferrals_total",
			Help:      "Total number of tenant sweeps deferred by the rate policy",
		}),
		TenantsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenants_skipped_total",
			Help:      "Total number of tenant sweeps skipped for missing gateway credentials",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent on one full dispatch sweep",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		GatewayCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of chat gateway calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		ContentQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_queued_total",
			Help:      "Total number of content records materialized into queue entries",
		}),
		CampaignsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_started_total",
			Help:      "Total number of broadcast campaigns started",
		}),
		CampaignsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaigns_completed_total",
			Help:      "Total number of broadcast campaigns completed",
		}),
	}
}
