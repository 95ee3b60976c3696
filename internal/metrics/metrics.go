package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. The packet path only
// ever increments counters here; nothing on it is allowed to block or fail.
type Metrics struct {
	PacketsProcessed prometheus.Counter
	PacketsSkipped   prometheus.Counter
	ParseErrors      prometheus.Counter
	TableFullDrops   prometheus.Counter
	EventsDropped    prometheus.Counter
	DevicesAttached  prometheus.Gauge
}

// New creates the metrics collectors. They are not registered; call
// MustRegister once from the daemon.
func New() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_packets_processed_total",
			Help: "Total number of packets delivered to the datapath",
		}),
		PacketsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_packets_skipped_total",
			Help: "Total number of non-IPv4 packets skipped by the datapath",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_parse_errors_total",
			Help: "Total number of packets abandoned by a header bounds check",
		}),
		TableFullDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_table_full_drops_total",
			Help: "Total number of statistics updates dropped because a table was at capacity",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnet_events_dropped_total",
			Help: "Total number of flow events dropped because the event channel was full",
		}),
		DevicesAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xnet_devices_attached",
			Help: "Number of interfaces currently attached for capture",
		}),
	}
}

// MustRegister registers all collectors with the default registry.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(
		m.PacketsProcessed,
		m.PacketsSkipped,
		m.ParseErrors,
		m.TableFullDrops,
		m.EventsDropped,
		m.DevicesAttached,
	)
}
