package telemetry

import "github.com/prometheus/client_golang/prometheus"

// NewMetricsRegistry creates a fresh Prometheus registry pre-populated
// with Go/process collectors plus the given service-specific collectors.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
