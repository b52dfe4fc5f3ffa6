// Package lifecycle owns the confirmation state of committed assignments:
// drivers confirm or decline, and a background sweep times out the ones
// nobody answered.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

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

// Config defines lifecycle parameters.
type Config struct {
	// ConfirmationTimeoutHours is how long a driver has to respond before
	// the sweep marks the assignment no_response.
	ConfirmationTimeoutHours int `json:"confirmation_timeout_hours"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.ConfirmationTimeoutHours <= 0 {
		c.ConfirmationTimeoutHours = 24
	}
}

// Manager applies confirmation transitions and runs the no-response sweep.
type Manager struct {
	store    store.Store
	groups   group.Provider
	ledger   *fairness.Ledger
	notifier notify.Dispatcher
	bus      eventbus.EventBus
	metrics  metrics.MetricsSink
	clock    clock.Clock
	timeout  time.Duration
	log      logger.Logger
}

// NewManager creates a Manager. bus and sink may be nil.
func NewManager(st store.Store, groups group.Provider, ledger *fairness.Ledger, cfg Config, notifier notify.Dispatcher, bus eventbus.EventBus, sink metrics.MetricsSink, clk clock.Clock, log logger.Logger) (*Manager, error) {
	if st == nil || groups == nil || ledger == nil || notifier == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("lifecycle: nil parameter provided to NewManager")
	}
	cfg.SetDefaults()
	return &Manager{
		store:    st,
		groups:   groups,
		ledger:   ledger,
		notifier: notifier,
		bus:      bus,
		metrics:  sink,
		clock:    clk,
		timeout:  time.Duration(cfg.ConfirmationTimeoutHours) * time.Hour,
		log:      log,
	}, nil
}

// Confirm marks the assignment confirmed. Only the assigned driver may
// confirm, and only from pending.
func (m *Manager) Confirm(ctx context.Context, assignmentID, parentID string) error {
	return m.respond(ctx, assignmentID, parentID, model.ConfirmationConfirmed, "")
}

// Decline marks the assignment declined and withdraws the driver family's
// trip credit from the ledger.
func (m *Manager) Decline(ctx context.Context, assignmentID, parentID, notes string) error {
	return m.respond(ctx, assignmentID, parentID, model.ConfirmationDeclined, notes)
}

func (m *Manager) respond(ctx context.Context, assignmentID, parentID string, status model.ConfirmationStatus, notes string) error {
	a, err := m.store.Assignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.DriverID != parentID {
		return fmt.Errorf("only the assigned driver may respond: %w", model.ErrForbidden)
	}
	if a.Status != model.ConfirmationPending {
		return fmt.Errorf("assignment is %s: %w", a.Status, model.ErrInvalidStateTransition)
	}
	now := m.clock.Now()
	a.Status = status
	a.RespondedAt = &now
	if notes != "" {
		a.Notes = notes
	}
	// A decline withdraws the family's trip credit; the status change and the
	// ledger adjustment land in one atomic write so a failure leaves the
	// assignment pending and retryable.
	var deltas []model.LoadDelta
	if status == model.ConfirmationDeclined {
		g, err := m.groups.Group(ctx, a.GroupID)
		if err != nil {
			return err
		}
		deltas = m.ledger.DeclineDeltas(g, a)
	}
	if err := m.store.ResolveAssignment(ctx, a, deltas); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Publish(events.AssignmentResolved{AssignmentID: a.ID, DriverID: a.DriverID, Status: status})
	}
	m.log.Infof("assignment %s %s by %s", a.ID, status, parentID)
	return nil
}

// RemindPending emits one reminder intent per still-pending assignment of the
// group week, addressed to its driver. Callers decide the cadence; the
// operation itself is stateless and safe to repeat.
func (m *Manager) RemindPending(ctx context.Context, groupID string, weekStart time.Time) (int, error) {
	assignments, err := m.store.AssignmentsForWeek(ctx, groupID, model.NormalizeWeek(weekStart))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, a := range assignments {
		if a.Status != model.ConfirmationPending {
			continue
		}
		intent := notify.Intent{
			ID:            uuid.NewString(),
			Type:          notify.AssignmentReminder,
			TargetUserIDs: []string{a.DriverID},
			Payload: map[string]any{
				"assignment_id": a.ID,
				"group_id":      a.GroupID,
				"date":          a.Date.Format("2006-01-02"),
				"time_slot":     a.TimeSlot.String(),
			},
		}
		if err := m.notifier.Dispatch(ctx, intent); err != nil {
			m.log.Errorf("reminder intent for %s: %v", a.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// SweepNoResponses finds pending assignments past the confirmation deadline
// and marks them no_response, emitting an escalation intent each. The sweep
// is idempotent: already-terminal assignments are never returned by the
// store, so re-running is a no-op. A single record's failure is logged and
// skipped rather than aborting the batch.
func (m *Manager) SweepNoResponses(ctx context.Context) (int, error) {
	now := m.clock.Now()
	cutoff := now.Add(-m.timeout)
	due, err := m.store.PendingBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	processed, failures := 0, 0
	for _, a := range due {
		a.Status = model.ConfirmationNoResponse
		a.RespondedAt = &now
		if err := m.store.UpdateAssignment(ctx, a); err != nil {
			m.log.Errorf("no-response transition for %s: %v", a.ID, err)
			failures++
			continue
		}
		intent := notify.Intent{
			ID:            uuid.NewString(),
			Type:          notify.NoResponseEscalation,
			TargetUserIDs: []string{a.DriverID},
			Payload: map[string]any{
				"assignment_id": a.ID,
				"group_id":      a.GroupID,
				"date":          a.Date.Format("2006-01-02"),
				"time_slot":     a.TimeSlot.String(),
			},
		}
		if err := m.notifier.Dispatch(ctx, intent); err != nil {
			m.log.Errorf("escalation intent for %s: %v", a.ID, err)
		}
		if m.bus != nil {
			m.bus.Publish(events.AssignmentResolved{AssignmentID: a.ID, DriverID: a.DriverID, Status: model.ConfirmationNoResponse})
		}
		processed++
	}
	m.recordSweep(processed, failures, now)
	return processed, nil
}

func (m *Manager) recordSweep(processed, failures int, now time.Time) {
	if m.bus != nil {
		m.bus.Publish(events.SweepCompleted{Name: "no_response", Processed: processed, Errors: failures, At: now})
	}
	if sr, ok := m.metrics.(metrics.SweepRecorder); ok && m.metrics != nil {
		if err := sr.RecordSweep(metrics.SweepEvent{Name: "no_response", Processed: processed, Errors: failures, Time: now}); err != nil {
			m.log.Errorf("sweep metrics error: %v", err)
		}
	}
}
