package metrics

import (
	"errors"

	coremetrics "github.com/kidlift/kidlift/core/metrics"
)

// MultiSink fans events out to several sinks, collecting all errors.
type MultiSink struct {
	sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink over the given sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// RecordScheduleRun implements MetricsSink.
func (m *MultiSink) RecordScheduleRun(run coremetrics.ScheduleRun) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.RecordScheduleRun(run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordSwapEvent implements SwapRecorder for sinks that support it.
func (m *MultiSink) RecordSwapEvent(ev coremetrics.SwapEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if sr, ok := s.(coremetrics.SwapRecorder); ok {
			if err := sr.RecordSwapEvent(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordSweep implements SweepRecorder for sinks that support it.
func (m *MultiSink) RecordSweep(ev coremetrics.SweepEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if sr, ok := s.(coremetrics.SweepRecorder); ok {
			if err := sr.RecordSweep(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
