package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP dispatch metrics
var (
	// DispatchOutcomes tracks how each HTTP request was dispatched:
	// oauth_redirect, install_page, custom_route, or not_found.
	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receiver_dispatch_outcomes_total",
			Help: "HTTP requests by dispatch outcome",
		},
		[]string{"outcome"},
	)

	// OAuthRateLimited counts requests rejected by the OAuth endpoint rate limiter.
	OAuthRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receiver_oauth_rate_limited_total",
			Help: "Requests to OAuth endpoints rejected by the rate limiter",
		},
	)
)

// Installer metrics
var (
	// InstallerCallbacks tracks OAuth callback results by status (success/failure).
	InstallerCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "installer_callbacks_total",
			Help: "OAuth callbacks by result status",
		},
		[]string{"status"},
	)

	// InstallURLsGenerated counts generated install URLs.
	InstallURLsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "installer_urls_generated_total",
			Help: "Install URLs generated",
		},
	)
)

// Socket client metrics
var (
	// SocketConnects counts successful socket connections, including reconnects.
	SocketConnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_connects_total",
			Help: "Successful socket mode connections",
		},
	)

	// SocketDisconnects counts connection losses by cause (error, server_request, shutdown).
	SocketDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_disconnects_total",
			Help: "Socket mode disconnections by cause",
		},
		[]string{"cause"},
	)

	// SocketEnvelopes tracks received envelopes by type.
	SocketEnvelopes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socket_envelopes_total",
			Help: "Received socket mode envelopes by type",
		},
		[]string{"type"},
	)

	// SocketEnvelopesDropped counts envelopes dropped because the consumer lagged.
	SocketEnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "socket_envelopes_dropped_total",
			Help: "Envelopes dropped due to a full event buffer",
		},
	)
)
