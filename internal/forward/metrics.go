package forward

import "github.com/prometheus/client_golang/prometheus"

var (
	gatewaysDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forward_gateways_discovered_total",
		Help: "Total number of distinct gateway notifications handled.",
	})
	duplicateGateways = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forward_duplicate_gateways_total",
		Help: "Total number of gateway notifications skipped as duplicates.",
	})
	mappingAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forward_mapping_attempts_total",
		Help: "Total number of port mapping attempts.",
	})
	mappingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forward_mapping_failures_total",
		Help: "Total number of failed port mapping attempts.",
	})
)

func init() {
	prometheus.MustRegister(gatewaysDiscovered)
	prometheus.MustRegister(duplicateGateways)
	prometheus.MustRegister(mappingAttempts)
	prometheus.MustRegister(mappingFailures)
}
