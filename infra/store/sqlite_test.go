package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "carpool.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func assignment(id string, ts model.TimeSlot) model.Assignment {
	return model.Assignment{
		ID:        id,
		GroupID:   "g1",
		WeekStart: monday,
		Date:      monday,
		TimeSlot:  ts,
		DriverID:  "u1",
		Status:    model.ConfirmationPending,
		CreatedAt: monday.Add(8 * time.Hour),
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := model.WeeklyPreference{
		UserID: "u1", GroupID: "g1", WeekStart: monday.AddDate(0, 0, 2),
		PerDay: map[time.Weekday]model.DayPreference{
			time.Monday: {CanDrive: true, PreferredPickup: model.SlotMorning},
		},
	}
	if err := s.SavePreference(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again supersedes rather than duplicating.
	p.PerDay[time.Tuesday] = model.DayPreference{CanPassenger: true}
	if err := s.SavePreference(ctx, p); err != nil {
		t.Fatalf("resave: %v", err)
	}

	got, err := s.PreferencesForWeek(ctx, "g1", monday)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(got))
	}
	if !got[0].WeekStart.Equal(monday) {
		t.Errorf("week not normalized: %v", got[0].WeekStart)
	}
	if len(got[0].PerDay) != 2 || !got[0].PerDay[time.Monday].CanDrive {
		t.Errorf("per-day map lost: %+v", got[0].PerDay)
	}
}

func TestCommitScheduleAndConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := assignment("a1", model.SlotMorning)
	a.PassengerIDs = []string{"u2", "u3"}
	deltas := []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: 1, FairShare: 0.5},
	}
	if err := s.CommitSchedule(ctx, []model.Assignment{a}, deltas); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.Assignment(ctx, "a1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.DriverID != "u1" || len(got.PassengerIDs) != 2 {
		t.Errorf("round trip lost fields: %+v", got)
	}

	// Same slot again: transaction rolls back, nothing new lands.
	err = s.CommitSchedule(ctx, []model.Assignment{
		assignment("a2", model.SlotAfternoon),
		assignment("a3", model.SlotMorning),
	}, []model.LoadDelta{{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: 5}})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.Assignment(ctx, "a2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("a2 leaked: %v", err)
	}
	loads, _ := s.WeekLoads(ctx, "g1", monday, monday)
	if len(loads) != 1 || loads[0].Trips != 1 {
		t.Errorf("deltas leaked: %+v", loads)
	}

	week, err := s.AssignmentsForWeek(ctx, "g1", monday)
	if err != nil {
		t.Fatalf("week read: %v", err)
	}
	if len(week) != 1 {
		t.Errorf("expected 1 assignment for week, got %d", len(week))
	}
}

func TestPendingBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := assignment("a1", model.SlotMorning)
	b := assignment("a2", model.SlotAfternoon)
	b.Status = model.ConfirmationConfirmed
	if err := s.CommitSchedule(ctx, []model.Assignment{a, b}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	due, err := s.PendingBefore(ctx, a.CreatedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(due) != 1 || due[0].ID != "a1" {
		t.Fatalf("expected only a1 due, got %+v", due)
	}
	due, err = s.PendingBefore(ctx, a.CreatedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("nothing should be due before creation, got %d", len(due))
	}
}

func TestSwapLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := assignment("a1", model.SlotMorning)
	if err := s.CommitSchedule(ctx, []model.Assignment{a}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	r := model.SwapRequest{
		ID:           "s1",
		AssignmentID: "a1",
		RequesterID:  "u1",
		Change:       model.ProposedChange{Role: model.RoleDriver},
		Status:       model.SwapPending,
		AutoAcceptAt: monday.AddDate(0, 0, 2).Add(17 * time.Hour),
		CreatedAt:    monday,
	}
	if err := s.SaveSwapRequest(ctx, r); err != nil {
		t.Fatalf("save swap: %v", err)
	}

	active, ok, err := s.ActiveSwapForAssignment(ctx, "a1")
	if err != nil || !ok || active.ID != "s1" {
		t.Fatalf("active swap: %v %v %v", active.ID, ok, err)
	}

	due, err := s.PendingSwapsDue(ctx, r.AutoAcceptAt)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due at deadline, got %d", len(due))
	}
	due, _ = s.PendingSwapsDue(ctx, r.AutoAcceptAt.Add(-time.Second))
	if len(due) != 0 {
		t.Fatalf("nothing due before deadline, got %d", len(due))
	}

	// Resolve through the atomic unit.
	a.DriverID = "u2"
	a.Status = model.ConfirmationConfirmed
	r.Status = model.SwapAccepted
	if err := s.ApplySwap(ctx, a, r, []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: -1},
		{FamilyID: "f2", GroupID: "g1", WeekStart: monday, Trips: 1},
	}); err != nil {
		t.Fatalf("apply swap: %v", err)
	}

	gotA, _ := s.Assignment(ctx, "a1")
	if gotA.DriverID != "u2" || gotA.Status != model.ConfirmationConfirmed {
		t.Errorf("assignment not updated: %+v", gotA)
	}
	gotR, _ := s.SwapRequest(ctx, "s1")
	if gotR.Status != model.SwapAccepted {
		t.Errorf("swap not updated: %s", gotR.Status)
	}
	if _, ok, _ := s.ActiveSwapForAssignment(ctx, "a1"); ok {
		t.Error("terminal swap still reported active")
	}
	loads, _ := s.WeekLoads(ctx, "g1", monday, monday)
	byFam := map[string]float64{}
	for _, l := range loads {
		byFam[l.FamilyID] = l.Trips
	}
	if byFam["f1"] != -1 || byFam["f2"] != 1 {
		t.Errorf("deltas wrong: %v", byFam)
	}
}

func TestApplySwapUnknownAssignmentRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ghost := assignment("ghost", model.SlotMorning)
	err := s.ApplySwap(ctx, ghost, model.SwapRequest{ID: "s1", AssignmentID: "ghost"}, nil)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The transaction rolled back, so the upserted request must not exist.
	if _, err := s.SwapRequest(ctx, "s1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("swap request leaked from rolled-back ApplySwap: %v", err)
	}
}

func TestApplySwapUpsertsRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := assignment("a1", model.SlotMorning)
	if err := s.CommitSchedule(ctx, []model.Assignment{a}, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	a.DriverID = "u1b"
	r := model.SwapRequest{ID: "s1", AssignmentID: "a1", RequesterID: "u1", Status: model.SwapAccepted}
	if err := s.ApplySwap(ctx, a, r, nil); err != nil {
		t.Fatalf("apply swap: %v", err)
	}
	got, err := s.SwapRequest(ctx, "s1")
	if err != nil {
		t.Fatalf("read swap: %v", err)
	}
	if got.Status != model.SwapAccepted {
		t.Errorf("swap status = %s, want accepted", got.Status)
	}
	if _, ok, _ := s.ActiveSwapForAssignment(ctx, "a1"); ok {
		t.Error("terminal swap reported active")
	}
}

func TestResolveAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := assignment("a1", model.SlotMorning)
	if err := s.CommitSchedule(ctx, []model.Assignment{a}, []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: 1, FairShare: 0.5},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	a.Status = model.ConfirmationDeclined
	if err := s.ResolveAssignment(ctx, a, []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: -1},
	}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ := s.Assignment(ctx, "a1")
	if got.Status != model.ConfirmationDeclined {
		t.Errorf("status = %s, want declined", got.Status)
	}
	loads, _ := s.WeekLoads(ctx, "g1", monday, monday)
	if len(loads) != 1 || loads[0].Trips != 0 {
		t.Errorf("decline delta not applied: %+v", loads)
	}

	err := s.ResolveAssignment(ctx, assignment("ghost", model.SlotAfternoon), []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: 5},
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	loads, _ = s.WeekLoads(ctx, "g1", monday, monday)
	if loads[0].Trips != 0 {
		t.Errorf("deltas leaked from rolled-back resolve: %+v", loads)
	}
}

func TestLoadDeltaAccumulation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.ApplyLoadDeltas(ctx, []model.LoadDelta{
			{FamilyID: "f1", GroupID: "g1", WeekStart: monday, Trips: 1, FairShare: 0.5},
		}); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	loads, err := s.WeekLoads(ctx, "g1", monday, monday)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(loads) != 1 || loads[0].Trips != 2 || loads[0].FairShare != 1 {
		t.Fatalf("accumulation wrong: %+v", loads)
	}
	if !loads[0].WeekStart.Equal(monday) {
		t.Errorf("week parse: %v", loads[0].WeekStart)
	}
}

func TestUpdateMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpdateAssignment(ctx, assignment("ghost", model.SlotMorning)); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("update assignment: %v", err)
	}
	if err := s.UpdateSwapRequest(ctx, model.SwapRequest{ID: "ghost"}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("update swap: %v", err)
	}
	if _, err := s.SwapRequest(ctx, "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("read swap: %v", err)
	}
}
