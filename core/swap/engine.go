// Package swap implements the renegotiation state machine for individual
// assignments. A request moves from pending to exactly one terminal state:
// accepted, declined, auto_accepted, expired or cancelled. Reassignment
// between two parents of the same household resolves immediately, since it
// carries no fairness or consent implications.
package swap

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

// Config defines swap negotiation parameters.
type Config struct {
	// AutoAcceptHours is the response window before a targeted request
	// auto-accepts (or an open offer expires).
	AutoAcceptHours int `json:"auto_accept_hours"`
	// CutoffHour rounds the deadline forward to a fixed local hour so
	// auto-resolutions land at a predictable time of day.
	CutoffHour int `json:"cutoff_hour"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.AutoAcceptHours <= 0 {
		c.AutoAcceptHours = 48
	}
	if c.CutoffHour <= 0 || c.CutoffHour > 23 {
		c.CutoffHour = 17
	}
}

// CreateRequest carries the inputs for a new swap request.
type CreateRequest struct {
	AssignmentID   string
	RequesterID    string
	TargetParentID string // empty = open offer to all eligible parents
	Change         model.ProposedChange
	Reason         string
	Priority       model.Priority
}

// Engine owns swap request state transitions and their downstream effects on
// assignments and the fairness ledger.
type Engine struct {
	store    store.Store
	groups   group.Provider
	ledger   *fairness.Ledger
	notifier notify.Dispatcher
	bus      eventbus.EventBus
	metrics  metrics.MetricsSink
	clock    clock.Clock
	log      logger.Logger
	window   time.Duration
	cutoff   int
}

// NewEngine creates an Engine. bus and sink may be nil.
func NewEngine(st store.Store, groups group.Provider, ledger *fairness.Ledger, cfg Config, notifier notify.Dispatcher, bus eventbus.EventBus, sink metrics.MetricsSink, clk clock.Clock, log logger.Logger) (*Engine, error) {
	if st == nil || groups == nil || ledger == nil || notifier == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("swap: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	return &Engine{
		store:    st,
		groups:   groups,
		ledger:   ledger,
		notifier: notifier,
		bus:      bus,
		metrics:  sink,
		clock:    clk,
		log:      log,
		window:   time.Duration(cfg.AutoAcceptHours) * time.Hour,
		cutoff:   cfg.CutoffHour,
	}, nil
}

// deadline returns now+window rounded forward to the daily cutoff hour.
func (e *Engine) deadline(now time.Time) time.Time {
	d := now.Add(e.window)
	at := time.Date(d.Year(), d.Month(), d.Day(), e.cutoff, 0, 0, 0, d.Location())
	if at.Before(d) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Create opens a swap request for an assignment. Fails with ErrConflict when
// another request is still active, and ErrForbidden when the requester is not
// on the assignment. A request targeting a parent of the requester's own
// family resolves immediately as accepted.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (model.SwapRequest, error) {
	if req.AssignmentID == "" {
		return model.SwapRequest{}, model.Validationf("originalAssignmentId", "must not be empty")
	}
	if req.RequesterID == "" {
		return model.SwapRequest{}, model.Validationf("requesterId", "must not be empty")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !req.Priority.Valid() {
		return model.SwapRequest{}, model.Validationf("priority", "unknown value %q", req.Priority)
	}
	if req.Change.Role != model.RoleDriver && req.Change.Role != model.RolePassenger {
		return model.SwapRequest{}, model.Validationf("proposedChange.role", "unknown value %q", req.Change.Role)
	}

	a, err := e.store.Assignment(ctx, req.AssignmentID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if a.Status == model.ConfirmationCancelled {
		return model.SwapRequest{}, fmt.Errorf("assignment %s is cancelled: %w", a.ID, model.ErrStaleReference)
	}
	if !onAssignment(a, req.RequesterID) {
		return model.SwapRequest{}, fmt.Errorf("requester %s is not on assignment %s: %w", req.RequesterID, a.ID, model.ErrForbidden)
	}
	if req.Change.Role == model.RoleDriver && a.DriverID != req.RequesterID {
		return model.SwapRequest{}, fmt.Errorf("only the current driver may offer the driving slot: %w", model.ErrForbidden)
	}
	if _, active, err := e.store.ActiveSwapForAssignment(ctx, a.ID); err != nil {
		return model.SwapRequest{}, err
	} else if active {
		return model.SwapRequest{}, fmt.Errorf("assignment %s already has an active swap request: %w", a.ID, model.ErrConflict)
	}

	g, err := e.groups.Group(ctx, a.GroupID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if req.TargetParentID != "" && !g.Member(req.TargetParentID) {
		return model.SwapRequest{}, model.Validationf("targetParentId", "%s is not a member of group %s", req.TargetParentID, g.ID)
	}

	now := e.clock.Now()
	r := model.SwapRequest{
		ID:             uuid.NewString(),
		AssignmentID:   a.ID,
		RequesterID:    req.RequesterID,
		TargetParentID: req.TargetParentID,
		Change:         req.Change,
		Reason:         req.Reason,
		Priority:       req.Priority,
		Status:         model.SwapPending,
		CreatedAt:      now,
	}

	// Intra-family fast path: no waiting, no opposing-party response. The
	// terminal request lands together with the assignment in resolve's one
	// atomic write, so a failed write leaves no active request behind.
	if req.TargetParentID != "" && g.SameFamily(req.RequesterID, req.TargetParentID) {
		return e.resolve(ctx, r, g, req.TargetParentID, model.SwapAccepted, "intra-family reassignment")
	}

	r.AutoAcceptAt = e.deadline(now)
	if err := e.store.SaveSwapRequest(ctx, r); err != nil {
		return model.SwapRequest{}, err
	}
	e.notifyOffer(ctx, g, a, r)
	e.log.Infof("swap request %s created for assignment %s (auto-accept at %s)", r.ID, a.ID, r.AutoAcceptAt.Format(time.RFC3339))
	return r, nil
}

// Respond accepts or declines a pending request. For targeted requests only
// the target may respond; for open offers any group parent other than the
// requester may, first responder wins.
func (e *Engine) Respond(ctx context.Context, swapID, responderID string, accept bool, message string) (model.SwapRequest, error) {
	r, err := e.store.SwapRequest(ctx, swapID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if r.Status.Terminal() {
		return model.SwapRequest{}, fmt.Errorf("swap request is %s: %w", r.Status, model.ErrInvalidStateTransition)
	}
	a, err := e.store.Assignment(ctx, r.AssignmentID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	g, err := e.groups.Group(ctx, a.GroupID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if r.Open() {
		if !g.Member(responderID) || responderID == r.RequesterID {
			return model.SwapRequest{}, fmt.Errorf("responder %s is not eligible: %w", responderID, model.ErrForbidden)
		}
	} else if responderID != r.TargetParentID {
		return model.SwapRequest{}, fmt.Errorf("only %s may respond: %w", r.TargetParentID, model.ErrForbidden)
	}

	if !accept {
		now := e.clock.Now()
		r.Status = model.SwapDeclined
		r.RespondedAt = &now
		r.ResponseNote = message
		if err := e.store.UpdateSwapRequest(ctx, r); err != nil {
			return model.SwapRequest{}, err
		}
		e.finish(ctx, r, g, []string{r.RequesterID, responderID})
		return r, nil
	}
	return e.resolve(ctx, r, g, responderID, model.SwapAccepted, message)
}

// Cancel withdraws a pending request. Only the original requester may cancel.
func (e *Engine) Cancel(ctx context.Context, swapID, requesterID string) (model.SwapRequest, error) {
	r, err := e.store.SwapRequest(ctx, swapID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if requesterID != r.RequesterID {
		return model.SwapRequest{}, fmt.Errorf("only the requester may cancel: %w", model.ErrForbidden)
	}
	if r.Status.Terminal() {
		return model.SwapRequest{}, fmt.Errorf("swap request is %s: %w", r.Status, model.ErrInvalidStateTransition)
	}
	now := e.clock.Now()
	r.Status = model.SwapCancelled
	r.RespondedAt = &now
	if err := e.store.UpdateSwapRequest(ctx, r); err != nil {
		return model.SwapRequest{}, err
	}
	a, err := e.store.Assignment(ctx, r.AssignmentID)
	if err == nil {
		if g, gerr := e.groups.Group(ctx, a.GroupID); gerr == nil {
			e.finish(ctx, r, g, []string{r.RequesterID})
		}
	}
	return r, nil
}

// SweepAutoAccepts resolves pending requests whose deadline has elapsed:
// targeted requests auto-accept as if the target had agreed, open offers
// expire. Already-terminal requests are never returned by the store, so
// overlapping sweep runs are no-ops. A single record's failure is logged and
// skipped.
func (e *Engine) SweepAutoAccepts(ctx context.Context) (int, error) {
	now := e.clock.Now()
	due, err := e.store.PendingSwapsDue(ctx, now)
	if err != nil {
		return 0, err
	}
	processed, failures := 0, 0
	for _, r := range due {
		a, err := e.store.Assignment(ctx, r.AssignmentID)
		if err != nil {
			e.log.Errorf("auto-accept sweep: assignment %s: %v", r.AssignmentID, err)
			failures++
			continue
		}
		g, err := e.groups.Group(ctx, a.GroupID)
		if err != nil {
			e.log.Errorf("auto-accept sweep: group %s: %v", a.GroupID, err)
			failures++
			continue
		}
		if r.Open() {
			r.Status = model.SwapExpired
			r.RespondedAt = &now
			if err := e.store.UpdateSwapRequest(ctx, r); err != nil {
				e.log.Errorf("expire swap %s: %v", r.ID, err)
				failures++
				continue
			}
			e.finish(ctx, r, g, []string{r.RequesterID})
		} else {
			if _, err := e.resolve(ctx, r, g, r.TargetParentID, model.SwapAutoAccepted, "auto-accepted after deadline"); err != nil {
				e.log.Errorf("auto-accept swap %s: %v", r.ID, err)
				failures++
				continue
			}
		}
		processed++
	}
	if e.bus != nil {
		e.bus.Publish(events.SweepCompleted{Name: "auto_accept", Processed: processed, Errors: failures, At: now})
	}
	if sr, ok := e.metrics.(metrics.SweepRecorder); ok && e.metrics != nil {
		if err := sr.RecordSweep(metrics.SweepEvent{Name: "auto_accept", Processed: processed, Errors: failures, Time: now}); err != nil {
			e.log.Errorf("sweep metrics error: %v", err)
		}
	}
	return processed, nil
}

// resolve applies an accepted or auto-accepted swap: the assignment changes
// hands, the ledger moves one trip between families, and both parties are
// notified. Everything persists through one atomic store call.
func (e *Engine) resolve(ctx context.Context, r model.SwapRequest, g group.Group, newPartyID string, status model.SwapStatus, note string) (model.SwapRequest, error) {
	a, err := e.store.Assignment(ctx, r.AssignmentID)
	if err != nil {
		return model.SwapRequest{}, err
	}
	now := e.clock.Now()
	var deltas []model.LoadDelta
	switch r.Change.Role {
	case model.RoleDriver:
		if a.DriverID != r.RequesterID {
			return model.SwapRequest{}, fmt.Errorf("assignment %s driver changed since request: %w", a.ID, model.ErrStaleReference)
		}
		deltas = e.ledger.SwapDeltas(g, a.WeekStart, a.DriverID, newPartyID)
		a.DriverID = newPartyID
		// The new driver consented by accepting, no second confirmation
		// round is needed.
		a.Status = model.ConfirmationConfirmed
		a.RespondedAt = &now
	case model.RolePassenger:
		a.PassengerIDs = replaceOrAdd(a.PassengerIDs, r.RequesterID, newPartyID)
	}
	r.Status = status
	r.RespondedAt = &now
	r.ResponseNote = note
	if err := e.store.ApplySwap(ctx, a, r, deltas); err != nil {
		return model.SwapRequest{}, fmt.Errorf("apply swap: %w", err)
	}
	targets := []string{r.RequesterID, newPartyID}
	crossFamily := !g.SameFamily(r.RequesterID, newPartyID)
	if crossFamily {
		// Admins get visibility but no approval gate; the swap is already
		// effective.
		targets = append(targets, g.AdminIDs...)
	}
	e.finish(ctx, r, g, targets)
	e.log.Infof("swap request %s %s, assignment %s now driven by %s", r.ID, status, a.ID, a.DriverID)
	return r, nil
}

// finish emits the terminal-state intent, bus event and metrics for r.
func (e *Engine) finish(ctx context.Context, r model.SwapRequest, g group.Group, targetUserIDs []string) {
	intent := notify.Intent{
		ID:            uuid.NewString(),
		Type:          notify.SwapResolved,
		TargetUserIDs: dedupe(targetUserIDs),
		Payload: map[string]any{
			"swap_id":       r.ID,
			"assignment_id": r.AssignmentID,
			"status":        r.Status.String(),
		},
	}
	if err := e.notifier.Dispatch(ctx, intent); err != nil {
		e.log.Errorf("swap-resolved intent for %s: %v", r.ID, err)
	}
	crossFamily := r.TargetParentID != "" && !g.SameFamily(r.RequesterID, r.TargetParentID)
	if e.bus != nil {
		e.bus.Publish(events.SwapResolved{SwapID: r.ID, AssignmentID: r.AssignmentID, Status: r.Status, CrossFamily: crossFamily})
	}
	if sr, ok := e.metrics.(metrics.SwapRecorder); ok && e.metrics != nil {
		ev := metrics.SwapEvent{SwapID: r.ID, AssignmentID: r.AssignmentID, Status: r.Status.String(), CrossFamily: crossFamily, Time: e.clock.Now()}
		if err := sr.RecordSwapEvent(ev); err != nil {
			e.log.Errorf("swap metrics error: %v", err)
		}
	}
}

// notifyOffer emits the swap-offer intent: to the target for targeted
// requests, to every other parent at once for open offers (first responder
// wins).
func (e *Engine) notifyOffer(ctx context.Context, g group.Group, a model.Assignment, r model.SwapRequest) {
	var targets []string
	if r.Open() {
		for _, p := range g.Parents() {
			if p != r.RequesterID {
				targets = append(targets, p)
			}
		}
	} else {
		targets = []string{r.TargetParentID}
	}
	intent := notify.Intent{
		ID:            uuid.NewString(),
		Type:          notify.SwapOffer,
		TargetUserIDs: targets,
		Payload: map[string]any{
			"swap_id":        r.ID,
			"assignment_id":  a.ID,
			"date":           a.Date.Format("2006-01-02"),
			"time_slot":      a.TimeSlot.String(),
			"reason":         r.Reason,
			"priority":       string(r.Priority),
			"auto_accept_at": r.AutoAcceptAt.Format(time.RFC3339),
		},
	}
	if err := e.notifier.Dispatch(ctx, intent); err != nil {
		e.log.Errorf("swap-offer intent for %s: %v", r.ID, err)
	}
}

func onAssignment(a model.Assignment, userID string) bool {
	if a.DriverID == userID {
		return true
	}
	for _, p := range a.PassengerIDs {
		if p == userID {
			return true
		}
	}
	return false
}

func replaceOrAdd(ids []string, oldID, newID string) []string {
	out := make([]string, 0, len(ids)+1)
	replaced := false
	for _, id := range ids {
		if id == oldID {
			out = append(out, newID)
			replaced = true
			continue
		}
		out = append(out, id)
	}
	if !replaced {
		out = append(out, newID)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
