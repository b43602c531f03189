// Package metrics holds the prometheus collectors of the tenancy service.
// They live in their own package so lifecycle, reconcile, notify and api can
// all record without importing each other.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplehub_http_requests_total",
		Help: "HTTP requests processed, by route pattern and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "peoplehub_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// TenantDenials counts request-path rejections by error code.
	TenantDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplehub_tenant_denials_total",
		Help: "Requests rejected by tenant resolution, access, feature or quota checks.",
	}, []string{"code"})

	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplehub_lifecycle_transitions_total",
		Help: "Lifecycle transitions attempted, by kind and result.",
	}, []string{"kind", "result"}) // result: committed|noop|invalid|stale|error

	SweepTenants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplehub_sweep_tenants_total",
		Help: "Tenants visited by reconciliation sweeps, by outcome.",
	}, []string{"outcome"}) // outcome: expired|skipped|failed|reminded

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "peoplehub_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "peoplehub_notifications_total",
		Help: "Lifecycle notifications, by result.",
	}, []string{"result"}) // result: delivered|failed|dropped

	NotifyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplehub_notify_queue_depth",
		Help: "Events waiting in the notification queue.",
	})
)

// Register registers every collector on reg, or the default registerer when
// reg is nil. Collectors already registered are not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TenantDenials,
		Transitions,
		SweepTenants,
		SweepDuration,
		NotificationsTotal,
		NotifyQueueDepth,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}
