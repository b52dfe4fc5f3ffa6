// Package events defines the event payloads published on the internal bus.
// Subscribers are observers only; no core decision depends on bus delivery.
package events

import (
	"time"

	"github.com/kidlift/kidlift/core/model"
)

// ScheduleGenerated is published after a generation run commits (or completes
// a dry run).
type ScheduleGenerated struct {
	GroupID    string
	WeekStart  time.Time
	Assigned   int
	Unresolved []string
	DryRun     bool
}

// AssignmentResolved is published when a driver confirms or declines, or the
// sweep times an assignment out.
type AssignmentResolved struct {
	AssignmentID string
	DriverID     string
	Status       model.ConfirmationStatus
}

// SwapResolved is published when a swap request reaches a terminal state.
type SwapResolved struct {
	SwapID       string
	AssignmentID string
	Status       model.SwapStatus
	CrossFamily  bool
}

// SweepCompleted is published after each background sweep iteration.
type SweepCompleted struct {
	Name      string
	Processed int
	Errors    int
	At        time.Time
}
