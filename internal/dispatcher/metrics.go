package dispatcher

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orb_events_total",
		Help: "Core decider events processed, by epic and event kind.",
	}, []string{"epic", "kind"})

	commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orb_commands_total",
		Help: "Commands executed against the brokerage port, by epic and command kind.",
	}, []string{"epic", "kind"})

	fatalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orb_fatal_total",
		Help: "FatalFailure terminations, by epic.",
	}, []string{"epic"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orb_dispatcher_queue_depth",
		Help: "Depth of the drain-loop FIFO immediately after seeding, by epic.",
	}, []string{"epic"})

	workingOrders = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orb_working_orders",
		Help: "Orders currently tracked in the order book, in any state, by epic.",
	}, []string{"epic"})
)

// RegisterMetrics registers the dispatcher's collectors with registry. Safe
// to call once at process startup; a second call against the same
// registry would panic on AlreadyRegisteredError, which callers should
// avoid by only wiring this from cmd/orbtrader's bootstrap.
func RegisterMetrics(registry prometheus.Registerer) {
	registry.MustRegister(eventsTotal, commandsTotal, fatalTotal, queueDepth, workingOrders)
}
