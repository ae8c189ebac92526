// Package metrics implements Prometheus metrics for the SIP/media core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SipRequestsTotal counts inbound SIP requests by method and the
	// final response status code the dialog engine sent for them.
	SipRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gb28181_nvr_sip_requests_total",
			Help: "Total number of inbound SIP requests handled, by method and response status",
		},
		[]string{"method", "status"},
	)

	// SipRetransmitsTotal counts UDP retransmissions sent by the transport.
	SipRetransmitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gb28181_nvr_sip_retransmits_total",
			Help: "Total number of SIP request retransmissions",
		},
		[]string{"method"},
	)

	// RegistrationState mirrors the registration state machine
	// (0=Unregistered 1=Challenged 2=Registered 3=Expiring 4=Failed).
	RegistrationState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gb28181_nvr_registration_state",
			Help: "Current SIP registration state",
		},
	)

	// KeepaliveFailuresTotal counts keepalive MESSAGEs whose send failed;
	// unanswered keepalives are not counted.
	KeepaliveFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gb28181_nvr_keepalive_failures_total",
			Help: "Total number of keepalive MESSAGE failures",
		},
	)

	// MediaSessionsActive tracks sessions currently in the playing state.
	MediaSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gb28181_nvr_media_sessions_active",
			Help: "Number of media sessions currently playing",
		},
	)

	// MediaSessionRestartsTotal counts supervised pipeline restarts per channel.
	MediaSessionRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gb28181_nvr_media_session_restarts_total",
			Help: "Total number of media session pipeline restarts",
		},
		[]string{"channel_id"},
	)

	// CatalogChannels tracks the current catalog size.
	CatalogChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gb28181_nvr_catalog_channels",
			Help: "Current number of channels in the catalog (device entry excluded)",
		},
	)

	// ScanDurationSeconds measures directory scan wall-clock time.
	ScanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gb28181_nvr_scan_duration_seconds",
			Help:    "Duration of catalog directory scans",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// Registration state values for the RegistrationState gauge.
const (
	RegStateUnregistered = 0
	RegStateChallenged   = 1
	RegStateRegistered   = 2
	RegStateExpiring     = 3
	RegStateFailed       = 4
)
