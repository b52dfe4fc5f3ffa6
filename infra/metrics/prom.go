package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kidlift/kidlift/core/metrics"
)

// PromSink records scheduling events in Prometheus metrics.
type PromSink struct {
	runs       *prometheus.CounterVec
	unresolved *prometheus.GaugeVec
	deviation  *prometheus.GaugeVec
	swaps      *prometheus.CounterVec
	sweeps     *prometheus.CounterVec
}

// NewPromSink registers scheduling metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carpool_schedule_runs_total",
		Help: "Total number of schedule generation runs",
	}, []string{"group_id", "dry_run"})
	unresolved := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carpool_schedule_unresolved_slots",
		Help: "Unresolved slots in the most recent generation run",
	}, []string{"group_id"})
	deviation := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carpool_fairness_deviation_stddev",
		Help: "Standard deviation of family fairness deviations at generation time",
	}, []string{"group_id"})
	swaps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carpool_swap_events_total",
		Help: "Swap requests reaching a terminal state",
	}, []string{"status", "cross_family"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "carpool_sweep_records_total",
		Help: "Records processed by background sweeps",
	}, []string{"sweep", "result"})

	for _, c := range []prometheus.Collector{runs, unresolved, deviation, swaps, sweeps} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return &PromSink{runs: runs, unresolved: unresolved, deviation: deviation, swaps: swaps, sweeps: sweeps}, nil
}

// RecordScheduleRun implements MetricsSink.
func (s *PromSink) RecordScheduleRun(run coremetrics.ScheduleRun) error {
	s.runs.WithLabelValues(run.GroupID, strconv.FormatBool(run.DryRun)).Inc()
	s.unresolved.WithLabelValues(run.GroupID).Set(float64(run.Unresolved))
	s.deviation.WithLabelValues(run.GroupID).Set(run.DeviationStdDev)
	return nil
}

// RecordSwapEvent implements SwapRecorder.
func (s *PromSink) RecordSwapEvent(ev coremetrics.SwapEvent) error {
	s.swaps.WithLabelValues(ev.Status, strconv.FormatBool(ev.CrossFamily)).Inc()
	return nil
}

// RecordSweep implements SweepRecorder.
func (s *PromSink) RecordSweep(ev coremetrics.SweepEvent) error {
	s.sweeps.WithLabelValues(ev.Name, "processed").Add(float64(ev.Processed))
	s.sweeps.WithLabelValues(ev.Name, "error").Add(float64(ev.Errors))
	return nil
}
