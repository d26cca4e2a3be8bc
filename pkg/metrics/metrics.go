package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransitionsApplied counts accepted settlement transitions by resulting status
var TransitionsApplied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_settlement_transitions_applied_total",
		Help: "Total number of settlement status transitions committed by the engine",
	},
	[]string{"status"},
)

// TransitionsRejected counts rejected transitions by reason
var TransitionsRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_settlement_transitions_rejected_total",
		Help: "Total number of settlement transitions rejected by the engine",
	},
	[]string{"reason"},
)

// TransitionNoOps counts duplicate/terminal no-op acknowledgments
var TransitionNoOps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_settlement_transition_noops_total",
		Help: "Total number of no-op event applications (duplicates, already terminal)",
	},
	[]string{"kind"},
)

// UnmatchedEvents counts events routed to the unmatched-event ledger
var UnmatchedEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_unmatched_events_total",
		Help: "Total number of events that could not be correlated to a settlement record",
	},
	[]string{"source"},
)

// WebhookRequests counts inbound provider webhook deliveries by provider and outcome
var WebhookRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_webhook_requests_total",
		Help: "Total number of fiat provider webhook deliveries",
	},
	[]string{"provider", "outcome"},
)

// NotificationsDispatched counts one-time terminal side effects that actually fired
var NotificationsDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_notifications_dispatched_total",
		Help: "Total number of terminal-settlement notifications published",
	},
	[]string{"kind"},
)

// LedgerPolls counts confirmation poll cycles by network
var LedgerPolls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metalex_ledger_polls_total",
		Help: "Total number of ledger confirmation polls by network and result",
	},
	[]string{"network", "result"},
)

func init() {
	prometheus.MustRegister(TransitionsApplied, TransitionsRejected, TransitionNoOps)
	prometheus.MustRegister(UnmatchedEvents, WebhookRequests, NotificationsDispatched, LedgerPolls)
}
