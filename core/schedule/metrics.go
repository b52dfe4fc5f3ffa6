package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
)

var generationRuns *prometheus.CounterVec

// newCollectors creates new metric collectors.
func newCollectors() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_generation_runs_total",
			Help: "Number of schedule generation runs by outcome",
		},
		[]string{"group_id", "outcome"},
	)
}

func init() {
	generationRuns = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers orchestrator metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(generationRuns)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	generationRuns = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
