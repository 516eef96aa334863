// Package metrics holds the process-wide counters and gauges named
// across the ambient and domain stacks: a mix of Prometheus counters for
// rate metrics and expvar.Int gauges for simple live counts, matching
// the split the teacher itself uses.
//
// Grounded on server/hub.go's `topicsLive *expvar.Int` (kept verbatim as
// the pattern for a simple live-count gauge) plus Prometheus counters
// for the two rate metrics spec §5 and §9 name explicitly
// (handler_rejected_total, event_bus_lagged_total), reusing the
// teacher's already-present Prometheus dependency rather than adding a
// second metrics library for one or the other kind.
package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

// LiveSessions and LiveChannels are process-wide live-count gauges.
// cmd/privchatd adjusts LiveSessions on authorization and disconnect;
// nothing in the module updates LiveChannels. expvar.Int matches
// server/hub.go's topicsLive exactly.
var (
	LiveSessions = expvar.NewInt("privchat_live_sessions")
	LiveChannels = expvar.NewInt("privchat_live_channels")
)

// Registry is the Prometheus registry privchatd exposes on its debug mux.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HandlerRejectedTotal,
		EventBusLaggedTotal,
	)
}

// HandlerRejectedTotal counts frames rejected by the gateway's admission
// semaphore (spec §5). internal/gateway increments this directly.
var HandlerRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "privchat_handler_rejected_total",
	Help: "Inbound frames rejected because the handler admission semaphore was full.",
})

// EventBusLaggedTotal counts events internal/eventbus dropped because a
// subscriber's channel was full (spec §9).
var EventBusLaggedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "privchat_event_bus_lagged_total",
	Help: "Events dropped because a subscriber channel was full.",
}, []string{"subscriber"})
