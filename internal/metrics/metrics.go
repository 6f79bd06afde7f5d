// Package metrics holds dmrelay's Prometheus collectors. They register on
// the default registry and are served by internal/ops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendJobs counts finished relay jobs by outcome
	// ("completed", "aborted", "cancelled", "timed_out").
	SendJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_send_jobs_total",
			Help: "Total relay send jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Deliveries counts individual DM attempts.
	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmrelay_deliveries_total",
			Help: "Total direct messages delivered",
		},
	)

	// DeliveryFailures counts aborted deliveries by cause
	// ("rate_limited", "forbidden", "other").
	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_delivery_failures_total",
			Help: "Delivery failures by cause",
		},
		[]string{"cause"},
	)

	// ConsoleCommands counts processed console commands by name
	// ("unknown" for unrecognized lines).
	ConsoleCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_console_commands_total",
			Help: "Console commands processed",
		},
		[]string{"command"},
	)

	// Rejections counts relay command rejections ("unauthorized", "bounds").
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmrelay_rejections_total",
			Help: "Relay command rejections by reason",
		},
		[]string{"reason"},
	)
)
