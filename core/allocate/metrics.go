package allocate

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	slotsAssigned   *prometheus.CounterVec
	slotsUnresolved *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec) {
	assigned := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_slots_assigned_total",
			Help: "Number of slots assigned a driver during allocation",
		},
		[]string{"group_id"},
	)
	unresolved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carpool_slots_unresolved_total",
			Help: "Number of slots left without a driver during allocation",
		},
		[]string{"group_id"},
	)
	return assigned, unresolved
}

func init() {
	slotsAssigned, slotsUnresolved = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers allocator metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(slotsAssigned, slotsUnresolved)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	slotsAssigned, slotsUnresolved = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
