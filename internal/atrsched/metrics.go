package atrsched

import "github.com/prometheus/client_golang/prometheus"

var atrGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "orb_atr",
	Help: "Most recently computed 5-period Wilder ATR, by epic.",
}, []string{"epic"})

// RegisterMetrics registers the scheduler's collector with registry. Safe
// to call once at process startup, alongside dispatcher.RegisterMetrics.
func RegisterMetrics(registry prometheus.Registerer) {
	registry.MustRegister(atrGauge)
}
