package metrics

import (
	"time"
)

// ScheduleRun summarizes one generation run for observability purposes.
type ScheduleRun struct {
	GroupID         string
	WeekStart       time.Time
	Assigned        int
	Unresolved      int
	DryRun          bool
	DeviationMean   float64
	DeviationStdDev float64
	Duration        time.Duration
	Time            time.Time
}

// SwapEvent records a swap request reaching a terminal state.
type SwapEvent struct {
	SwapID       string
	AssignmentID string
	Status       string
	CrossFamily  bool
	Time         time.Time
}

// SweepEvent records one iteration of a background sweep.
type SweepEvent struct {
	Name      string
	Processed int
	Errors    int
	Time      time.Time
}

// MetricsSink records schedule runs. Sinks that also implement SwapRecorder
// or SweepRecorder receive those events too.
type MetricsSink interface {
	RecordScheduleRun(run ScheduleRun) error
}

// SwapRecorder is implemented by sinks able to record swap events.
type SwapRecorder interface {
	RecordSwapEvent(ev SwapEvent) error
}

// SweepRecorder is implemented by sinks able to record sweep iterations.
type SweepRecorder interface {
	RecordSweep(ev SweepEvent) error
}

// NopSink implements all recorder interfaces with no-op methods.
type NopSink struct{}

func (NopSink) RecordScheduleRun(ScheduleRun) error { return nil }
func (NopSink) RecordSwapEvent(SwapEvent) error     { return nil }
func (NopSink) RecordSweep(SweepEvent) error        { return nil }
