package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Voice session metrics
var (
	SessionStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Session start attempts by outcome",
		},
		[]string{"outcome"},
	)

	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		},
		[]string{"state", "reason"},
	)

	ResourceReleaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "session",
			Name:      "release_errors_total",
			Help:      "Resource cleanup steps that failed",
		},
		[]string{"resource"},
	)

	CredentialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "voicedesk",
			Subsystem: "session",
			Name:      "credential_duration_seconds",
			Help:      "Credential exchange duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	DroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "session",
			Name:      "dropped_events_total",
			Help:      "Transport events ignored because their session was no longer live",
		},
		[]string{"event"},
	)
)

// CRM side-channel metrics
var (
	CRMJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "crm",
			Name:      "jobs_total",
			Help:      "CRM outbox jobs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CRMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicedesk",
			Subsystem: "crm",
			Name:      "request_duration_seconds",
			Help:      "CRM API request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
)

// Gateway metrics
var (
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicedesk",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
