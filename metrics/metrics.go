package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// SubmissionsTotal counts wizard submissions by mode (create/edit) and result.
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwatch",
		Subsystem: "workflow",
		Name:      "submissions_total",
		Help:      "Total number of report submissions, labeled by mode and result.",
	}, []string{"mode", "result"})

	// PhotoUploadsTotal counts photo uploads by result.
	PhotoUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwatch",
		Subsystem: "storage",
		Name:      "photo_uploads_total",
		Help:      "Total number of photo uploads, labeled by result.",
	}, []string{"result"})

	// SharesTotal counts social share side effects by provider and result.
	SharesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwatch",
		Subsystem: "share",
		Name:      "posts_total",
		Help:      "Total number of social share attempts, labeled by provider and result.",
	}, []string{"provider", "result"})

	// RelayOutcomesTotal counts relay calls by outcome kind ("ok" on success).
	RelayOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwatch",
		Subsystem: "relay",
		Name:      "outcomes_total",
		Help:      "Total number of social relay calls, labeled by outcome.",
	}, []string{"outcome"})

	// SessionEventsTotal counts sign-ins and sign-outs by provider.
	SessionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridwatch",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Total number of session changes, labeled by event and provider.",
	}, []string{"event", "provider"})

	// RequestDurationSeconds is HTTP handling time per route.
	RequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gridwatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time to handle an HTTP request, labeled by method, route and status code.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route", "code"})

	// FeedClients is the number of connected live feed clients.
	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gridwatch",
		Subsystem: "feed",
		Name:      "clients",
		Help:      "Current number of connected live feed clients.",
	})
)

// Register registers the service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			PhotoUploadsTotal,
			SharesTotal,
			RelayOutcomesTotal,
			SessionEventsTotal,
			RequestDurationSeconds,
			FeedClients,
		)
	})
}

// Result turns an error into a "success"/"error" label
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
