// Package app wires the scheduling engines to the configured
// infrastructure and runs the background sweeps.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kidlift/kidlift/config"
	"github.com/kidlift/kidlift/core/clock"
	"github.com/kidlift/kidlift/core/fairness"
	"github.com/kidlift/kidlift/core/group"
	"github.com/kidlift/kidlift/core/lifecycle"
	coremetrics "github.com/kidlift/kidlift/core/metrics"
	corenotify "github.com/kidlift/kidlift/core/notify"
	"github.com/kidlift/kidlift/core/schedule"
	"github.com/kidlift/kidlift/core/store"
	"github.com/kidlift/kidlift/core/swap"
	"github.com/kidlift/kidlift/infra/logger"
	inframetrics "github.com/kidlift/kidlift/infra/metrics"
	infranotify "github.com/kidlift/kidlift/infra/notify"
	infrastore "github.com/kidlift/kidlift/infra/store"
	"github.com/kidlift/kidlift/internal/eventbus"
)

// Service holds the wired engines and the handles needed to shut them
// down cleanly.
type Service struct {
	Orchestrator *schedule.Orchestrator
	Lifecycle    *lifecycle.Manager
	Swaps        *swap.Engine

	cfg   *config.Config
	bus   *eventbus.Bus
	log   logger.Logger
	close []func() error
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Logging)
	logg := logger.New("service")

	svc := &Service{cfg: cfg, bus: eventbus.New(), log: logg}

	st, err := svc.buildStore()
	if err != nil {
		return nil, err
	}
	notifier, err := svc.buildNotifier()
	if err != nil {
		return nil, err
	}
	sink, err := svc.buildSink()
	if err != nil {
		return nil, err
	}

	groups := make([]group.Group, 0, len(cfg.Groups))
	for _, gc := range cfg.Groups {
		groups = append(groups, gc.ToGroup())
	}
	provider := group.NewStaticProvider(groups...)

	clk := clock.Real{}
	ledger := fairness.NewLedger(st, cfg.Fairness, logger.New("fairness"))

	orch, err := schedule.NewOrchestrator(st, provider, ledger, cfg.Allocator,
		notifier, svc.bus, sink, clk, logger.New("schedule"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	lc, err := lifecycle.NewManager(st, provider, ledger, cfg.Lifecycle,
		notifier, svc.bus, sink, clk, logger.New("lifecycle"))
	if err != nil {
		return nil, fmt.Errorf("lifecycle manager: %w", err)
	}
	swaps, err := swap.NewEngine(st, provider, ledger, cfg.Swap,
		notifier, svc.bus, sink, clk, logger.New("swap"))
	if err != nil {
		return nil, fmt.Errorf("swap engine: %w", err)
	}

	svc.Orchestrator = orch
	svc.Lifecycle = lc
	svc.Swaps = swaps
	return svc, nil
}

func (s *Service) buildStore() (store.Store, error) {
	switch s.cfg.Store.Driver {
	case "sqlite":
		st, err := infrastore.NewSQLiteStore(s.cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		s.close = append(s.close, st.Close)
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func (s *Service) buildNotifier() (corenotify.Dispatcher, error) {
	if s.cfg.Notify.Dispatcher != "mqtt" {
		return corenotify.NopDispatcher{}, nil
	}
	d, err := infranotify.NewPahoDispatcher(s.cfg.Notify.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt dispatcher: %w", err)
	}
	s.close = append(s.close, func() error { d.Disconnect(); return nil })
	return d, nil
}

func (s *Service) buildSink() (coremetrics.MetricsSink, error) {
	var sinks []coremetrics.MetricsSink
	if s.cfg.Metrics.PrometheusEnabled {
		sink, err := inframetrics.NewPromSink(s.cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if s.cfg.Metrics.InfluxEnabled {
		sink := inframetrics.NewInfluxSinkWithFallback(
			s.cfg.Metrics.InfluxURL, s.cfg.Metrics.InfluxToken,
			s.cfg.Metrics.InfluxOrg, s.cfg.Metrics.InfluxBucket)
		if c, ok := sink.(*inframetrics.InfluxSink); ok {
			s.close = append(s.close, func() error { c.Close(); return nil })
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return inframetrics.NewMultiSink(sinks...), nil
	}
}

// Run blocks until the context is cancelled, driving the background
// sweeps and, when enabled, the Prometheus endpoint.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := inframetrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prometheus server: %v", err)
			}
		}()
	}

	noResponse := time.NewTicker(time.Duration(s.cfg.Sweeps.NoResponseIntervalMinutes) * time.Minute)
	defer noResponse.Stop()
	autoAccept := time.NewTicker(time.Duration(s.cfg.Sweeps.AutoAcceptIntervalMinutes) * time.Minute)
	defer autoAccept.Stop()

	s.log.Infof("service started: %d groups, store=%s", len(s.cfg.Groups), s.cfg.Store.Driver)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-noResponse.C:
			if _, err := s.Lifecycle.SweepNoResponses(ctx); err != nil {
				s.log.Errorf("no-response sweep: %v", err)
			}
		case <-autoAccept.C:
			if _, err := s.Swaps.SweepAutoAccepts(ctx); err != nil {
				s.log.Errorf("auto-accept sweep: %v", err)
			}
		}
	}
}

// Close releases infrastructure resources.
func (s *Service) Close() error {
	s.bus.Close()
	var first error
	for _, fn := range s.close {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
