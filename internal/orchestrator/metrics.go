package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the orchestrator's prometheus collectors. Each Orchestrator
// registers its own unless WithMetricsRegisterer points it at a shared one.
type metrics struct {
	sent               prometheus.Counter
	sendErrors         *prometheus.CounterVec
	registeredMachines prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		sent: factory.NewCounter(prometheus.CounterOpts{
			Name: "statefabric_orchestrator_events_sent_total",
			Help: "Events successfully delivered to a target machine's mailbox.",
		}),
		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "statefabric_orchestrator_send_errors_total",
			Help: "Send failures by SendError kind.",
		}, []string{"kind"}),
		registeredMachines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "statefabric_orchestrator_registered_machines",
			Help: "Number of machines currently registered with the orchestrator.",
		}),
	}
}
