// Package schedule drives weekly generation runs: it validates inputs, reads
// fairness state, invokes the allocator, applies the partial-generation
// policy and owns the single commit point.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kidlift/kidlift/core/allocate"
	"github.com/kidlift/kidlift/core/clock"
	"github.com/kidlift/kidlift/core/events"
	"github.com/kidlift/kidlift/core/fairness"
	"github.com/kidlift/kidlift/core/group"
	"github.com/kidlift/kidlift/core/logger"
	"github.com/kidlift/kidlift/core/metrics"
	"github.com/kidlift/kidlift/core/model"
	"github.com/kidlift/kidlift/core/notify"
	"github.com/kidlift/kidlift/core/store"
	"github.com/kidlift/kidlift/internal/eventbus"
)

// Options control one generation run.
type Options struct {
	ConsiderFairness       bool
	PrioritizePreferences  bool
	AllowPartialGeneration bool
	NotifyParticipants     bool
	DryRun                 bool
}

// Request identifies the group week to generate.
type Request struct {
	GroupID   string
	WeekStart time.Time
	Options   Options
}

// Result is the outcome of a successful run. Warnings name unresolved slots
// when partial generation was allowed.
type Result struct {
	Assignments []model.Assignment
	Warnings    []string
}

// Orchestrator coordinates one full weekly run. Concurrent runs for the same
// (group, week) are rejected with ErrAlreadyRunning; everything up to the
// commit call is side-effect free, so a failed or cancelled run can simply be
// re-invoked.
type Orchestrator struct {
	store    store.Store
	groups   group.Provider
	ledger   *fairness.Ledger
	alloc    *allocate.Allocator
	weights  allocate.Weights
	notifier notify.Dispatcher
	bus      eventbus.EventBus
	metrics  metrics.MetricsSink
	clock    clock.Clock
	log      logger.Logger
	guard    runGuard
}

// NewOrchestrator creates an Orchestrator. All collaborators are required
// except bus and metrics, which may be nil.
func NewOrchestrator(st store.Store, groups group.Provider, ledger *fairness.Ledger, cfg allocate.Config, notifier notify.Dispatcher, bus eventbus.EventBus, sink metrics.MetricsSink, clk clock.Clock, log logger.Logger) (*Orchestrator, error) {
	if st == nil || groups == nil || ledger == nil || notifier == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("schedule: nil parameter provided to NewOrchestrator")
	}
	cfg.SetDefaults()
	return &Orchestrator{
		store:    st,
		groups:   groups,
		ledger:   ledger,
		alloc:    allocate.New(cfg),
		weights:  cfg.Weights,
		notifier: notifier,
		bus:      bus,
		metrics:  sink,
		clock:    clk,
		log:      log,
		guard:    newRunGuard(),
	}, nil
}

// Generate runs one full weekly generation.
//
//gocyclo:ignore
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.GroupID == "" {
		return Result{}, model.Validationf("groupId", "must not be empty")
	}
	if req.WeekStart.IsZero() {
		return Result{}, model.Validationf("weekStartDate", "must not be zero")
	}
	week := model.NormalizeWeek(req.WeekStart)
	key := req.GroupID + "/" + week.Format("2006-01-02")
	if !o.guard.acquire(key) {
		return Result{}, fmt.Errorf("group %s week %s: %w", req.GroupID, week.Format("2006-01-02"), model.ErrAlreadyRunning)
	}
	defer o.guard.release(key)

	start := o.clock.Now()
	g, err := o.groups.Group(ctx, req.GroupID)
	if err != nil {
		return Result{}, fmt.Errorf("load group %s: %w", req.GroupID, err)
	}
	if len(g.Template) == 0 {
		return Result{}, model.Validationf("groupId", "group %s has no slot template", g.ID)
	}

	existing, err := o.store.AssignmentsForWeek(ctx, g.ID, week)
	if err != nil {
		return Result{}, err
	}
	if len(existing) > 0 {
		return Result{}, fmt.Errorf("week %s already generated for group %s: %w", week.Format("2006-01-02"), g.ID, model.ErrConflict)
	}

	prefs, err := o.store.PreferencesForWeek(ctx, g.ID, week)
	if err != nil {
		return Result{}, err
	}
	if len(prefs) == 0 {
		return Result{}, fmt.Errorf("group %s week %s: %w", g.ID, week.Format("2006-01-02"), model.ErrInsufficientData)
	}

	deviation := map[string]float64{}
	if req.Options.ConsiderFairness {
		deviation, err = o.ledger.ComputeDeviation(ctx, g.ID, week)
		if err != nil {
			return Result{}, err
		}
	}

	slots := g.Slots(week)
	candidates := o.buildCandidates(g, slots, prefs)
	weights := o.weights
	if !req.Options.PrioritizePreferences {
		weights.Preference = 0
	}
	if !req.Options.ConsiderFairness {
		weights.Fairness = 0
	}
	alloc := o.alloc.Allocate(slots, candidates, deviation, weights)

	if len(alloc.Unresolved) > 0 && !req.Options.AllowPartialGeneration {
		return Result{}, &model.UnresolvableScheduleError{Slots: alloc.Unresolved}
	}

	assignments := o.buildAssignments(g, week, slots, prefs, alloc.Assigned)
	warnings := make([]string, 0, len(alloc.Unresolved))
	for _, id := range alloc.Unresolved {
		warnings = append(warnings, fmt.Sprintf("slot %s unresolved: no available driver", id))
	}

	if req.Options.DryRun {
		o.report(g, week, assignments, alloc.Unresolved, deviation, start, true)
		return Result{Assignments: assignments, Warnings: warnings}, nil
	}

	// Transactional boundary: nothing has been written yet, so a cancelled
	// run leaves no trace.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	deltas := o.ledger.ScheduleDeltas(g, week, assignments)
	if err := o.store.CommitSchedule(ctx, assignments, deltas); err != nil {
		return Result{}, fmt.Errorf("commit schedule: %w", err)
	}
	if req.Options.NotifyParticipants {
		o.notifyParticipants(ctx, week, assignments)
	}
	o.report(g, week, assignments, alloc.Unresolved, deviation, start, false)
	return Result{Assignments: assignments, Warnings: warnings}, nil
}

// buildCandidates collects, per slot, the parents who offered to drive that
// day, with their preference rank for the slot.
func (o *Orchestrator) buildCandidates(g group.Group, slots []model.Slot, prefs []model.WeeklyPreference) map[string][]allocate.Candidate {
	out := make(map[string][]allocate.Candidate, len(slots))
	for _, slot := range slots {
		day := slot.Date.Weekday()
		for _, p := range prefs {
			dp, ok := p.PerDay[day]
			if !ok || !dp.CanDrive {
				continue
			}
			fam, ok := g.FamilyOf(p.UserID)
			if !ok {
				o.log.Warnf("preference from %s who is not on group %s roster, ignoring", p.UserID, g.ID)
				continue
			}
			match, stated := p.PrefersSlot(day, slot.TimeSlot)
			out[slot.ID] = append(out[slot.ID], allocate.Candidate{
				UserID:         p.UserID,
				FamilyID:       fam.ID,
				PreferenceRank: allocate.PreferenceRank(match, stated),
			})
		}
	}
	return out
}

// buildAssignments materializes assignments for the resolved slots, pending
// driver confirmation. Passengers are the parents who marked canPassenger for
// the slot's day, minus the driver.
func (o *Orchestrator) buildAssignments(g group.Group, week time.Time, slots []model.Slot, prefs []model.WeeklyPreference, assigned map[string]string) []model.Assignment {
	now := o.clock.Now()
	var out []model.Assignment
	for _, slot := range slots {
		driver, ok := assigned[slot.ID]
		if !ok {
			continue
		}
		var passengers []string
		for _, p := range prefs {
			if p.UserID == driver {
				continue
			}
			if dp, ok := p.PerDay[slot.Date.Weekday()]; ok && dp.CanPassenger {
				passengers = append(passengers, p.UserID)
			}
		}
		sort.Strings(passengers)
		out = append(out, model.Assignment{
			ID:           uuid.NewString(),
			GroupID:      g.ID,
			WeekStart:    week,
			Date:         slot.Date,
			TimeSlot:     slot.TimeSlot,
			DriverID:     driver,
			PassengerIDs: passengers,
			Status:       model.ConfirmationPending,
			CreatedAt:    now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeSlot.Order() < out[j].TimeSlot.Order()
	})
	return out
}

// notifyParticipants emits one schedule-published intent per assignment,
// addressed to the driver and its passenger set.
func (o *Orchestrator) notifyParticipants(ctx context.Context, week time.Time, assignments []model.Assignment) {
	for _, a := range assignments {
		targets := append([]string{a.DriverID}, a.PassengerIDs...)
		intent := notify.Intent{
			ID:            uuid.NewString(),
			Type:          notify.SchedulePublished,
			TargetUserIDs: targets,
			Payload: map[string]any{
				"assignment_id": a.ID,
				"group_id":      a.GroupID,
				"week_start":    week.Format("2006-01-02"),
				"date":          a.Date.Format("2006-01-02"),
				"time_slot":     a.TimeSlot.String(),
				"driver_id":     a.DriverID,
			},
		}
		if err := o.notifier.Dispatch(ctx, intent); err != nil {
			o.log.Errorf("schedule-published intent for %s: %v", a.ID, err)
		}
	}
}

func (o *Orchestrator) report(g group.Group, week time.Time, assignments []model.Assignment, unresolved []string, deviation map[string]float64, start time.Time, dryRun bool) {
	mean, stddev := fairness.Summary(deviation)
	o.log.Infof("generated %d assignment(s) for group %s week %s (%d unresolved, dry_run=%t)",
		len(assignments), g.ID, week.Format("2006-01-02"), len(unresolved), dryRun)
	o.log.Debugw("fairness summary", map[string]any{
		"group_id":     g.ID,
		"week":         week.Format("2006-01-02"),
		"dev_mean":     mean,
		"dev_stddev":   stddev,
		"duration_sec": o.clock.Now().Sub(start).Seconds(),
	})
	outcome := "committed"
	if dryRun {
		outcome = "dry_run"
	}
	generationRuns.WithLabelValues(g.ID, outcome).Inc()
	if o.bus != nil {
		o.bus.Publish(events.ScheduleGenerated{
			GroupID:    g.ID,
			WeekStart:  week,
			Assigned:   len(assignments),
			Unresolved: unresolved,
			DryRun:     dryRun,
		})
	}
	if o.metrics != nil {
		run := metrics.ScheduleRun{
			GroupID:         g.ID,
			WeekStart:       week,
			Assigned:        len(assignments),
			Unresolved:      len(unresolved),
			DryRun:          dryRun,
			DeviationMean:   mean,
			DeviationStdDev: stddev,
			Duration:        o.clock.Now().Sub(start),
			Time:            o.clock.Now(),
		}
		if err := o.metrics.RecordScheduleRun(run); err != nil {
			o.log.Errorf("metrics error: %v", err)
		}
	}
}
