package store

import (
	"context"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

// PreferenceStore persists weekly availability submissions.
type PreferenceStore interface {
	SavePreference(ctx context.Context, p model.WeeklyPreference) error
	// PreferencesForWeek returns all submissions for a group week, ordered
	// by user id.
	PreferencesForWeek(ctx context.Context, groupID string, weekStart time.Time) ([]model.WeeklyPreference, error)
}

// AssignmentStore persists committed assignments.
type AssignmentStore interface {
	Assignment(ctx context.Context, id string) (model.Assignment, error)
	// AssignmentsForWeek returns the week's assignments ordered by date then
	// time slot.
	AssignmentsForWeek(ctx context.Context, groupID string, weekStart time.Time) ([]model.Assignment, error)
	// PendingBefore returns assignments still pending confirmation that were
	// created at or before the cutoff, for the no-response sweep.
	PendingBefore(ctx context.Context, cutoff time.Time) ([]model.Assignment, error)
	UpdateAssignment(ctx context.Context, a model.Assignment) error
}

// SwapStore persists swap requests.
type SwapStore interface {
	SwapRequest(ctx context.Context, id string) (model.SwapRequest, error)
	// ActiveSwapForAssignment returns the single non-terminal request for the
	// assignment, if any.
	ActiveSwapForAssignment(ctx context.Context, assignmentID string) (model.SwapRequest, bool, error)
	SaveSwapRequest(ctx context.Context, r model.SwapRequest) error
	UpdateSwapRequest(ctx context.Context, r model.SwapRequest) error
	// PendingSwapsDue returns pending requests whose auto-accept deadline has
	// elapsed at now, for the auto-accept sweep.
	PendingSwapsDue(ctx context.Context, now time.Time) ([]model.SwapRequest, error)
}

// FairnessStore persists per-week family load rows.
type FairnessStore interface {
	// WeekLoads returns load rows for weeks in [from, to], ordered by week
	// then family id.
	WeekLoads(ctx context.Context, groupID string, from, to time.Time) ([]model.WeekLoad, error)
	// ApplyLoadDeltas applies all deltas atomically: either every family
	// adjustment lands or none do.
	ApplyLoadDeltas(ctx context.Context, deltas []model.LoadDelta) error
}

// Store is the persistence boundary of the scheduling core. The
// multi-record operations are the core's only commit points and must be
// atomic.
type Store interface {
	PreferenceStore
	AssignmentStore
	SwapStore
	FairnessStore

	// CommitSchedule persists a generation run: the new assignments and the
	// fairness deltas they imply, all or nothing. Fails with ErrConflict if
	// any slot already has an assignment.
	CommitSchedule(ctx context.Context, assignments []model.Assignment, deltas []model.LoadDelta) error
	// ApplySwap persists a resolved swap: the updated assignment, the swap
	// request and the fairness deltas, all or nothing. The swap request is
	// upserted, so a request that resolves at creation time lands in the
	// same write as its assignment. The assignment must exist.
	ApplySwap(ctx context.Context, a model.Assignment, r model.SwapRequest, deltas []model.LoadDelta) error
	// ResolveAssignment persists a confirmation transition together with the
	// fairness deltas it implies, all or nothing.
	ResolveAssignment(ctx context.Context, a model.Assignment, deltas []model.LoadDelta) error
}
