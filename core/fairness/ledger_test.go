package fairness

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/kidlift/kidlift/core/allocate"
	"github.com/kidlift/kidlift/core/group"
	"github.com/kidlift/kidlift/core/model"
	"github.com/kidlift/kidlift/core/store"
	"github.com/kidlift/kidlift/infra/logger"
)

var week0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday

func testGroup() group.Group {
	return group.Group{
		ID: "g1",
		Families: []group.Family{
			{ID: "f1", ParentIDs: []string{"u1"}, ChildCount: 2},
			{ID: "f2", ParentIDs: []string{"u2"}, ChildCount: 1},
			{ID: "f3", ParentIDs: []string{"u3"}, ChildCount: 1},
		},
	}
}

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewLedger(st, Config{WindowWeeks: 8}, logger.NopLogger{}), st
}

func TestScheduleDeltasFairShare(t *testing.T) {
	l, _ := newTestLedger(t)
	g := testGroup()

	var assignments []model.Assignment
	for i := 0; i < 10; i++ {
		driver := "u1"
		if i >= 6 {
			driver = "u2"
		}
		assignments = append(assignments, model.Assignment{
			ID: "a", GroupID: "g1", WeekStart: week0, DriverID: driver,
		})
	}

	deltas := l.ScheduleDeltas(g, week0, assignments)
	if len(deltas) != 3 {
		t.Fatalf("expected one delta per family, got %d", len(deltas))
	}
	byFam := map[string]model.LoadDelta{}
	for _, d := range deltas {
		byFam[d.FamilyID] = d
	}
	// 10 assignments, 4 children total: shares 5 / 2.5 / 2.5.
	if byFam["f1"].FairShare != 5 || byFam["f2"].FairShare != 2.5 || byFam["f3"].FairShare != 2.5 {
		t.Errorf("fair shares wrong: %+v", byFam)
	}
	if byFam["f1"].Trips != 6 || byFam["f2"].Trips != 4 || byFam["f3"].Trips != 0 {
		t.Errorf("trip counts wrong: %+v", byFam)
	}
}

func TestSwapDeltasIntraFamilyNil(t *testing.T) {
	l, _ := newTestLedger(t)
	g := testGroup()
	g.Families[0].ParentIDs = []string{"u1", "u1b"}

	if d := l.SwapDeltas(g, week0, "u1", "u1b"); d != nil {
		t.Fatalf("intra-family swap must produce no deltas, got %v", d)
	}
	d := l.SwapDeltas(g, week0, "u1", "u2")
	if len(d) != 2 {
		t.Fatalf("cross-family swap must move one trip, got %v", d)
	}
	if d[0].FamilyID != "f1" || d[0].Trips != -1 || d[1].FamilyID != "f2" || d[1].Trips != 1 {
		t.Errorf("unexpected deltas: %v", d)
	}
}

func TestDeclineDeltas(t *testing.T) {
	l, _ := newTestLedger(t)
	g := testGroup()

	a := model.Assignment{GroupID: "g1", WeekStart: week0, DriverID: "u2"}
	d := l.DeclineDeltas(g, a)
	if len(d) != 1 || d[0].FamilyID != "f2" || d[0].Trips != -1 {
		t.Fatalf("unexpected decline deltas: %v", d)
	}
	if d := l.DeclineDeltas(g, model.Assignment{DriverID: "stranger"}); d != nil {
		t.Errorf("unknown driver should produce no deltas, got %v", d)
	}
}

func TestComputeDeviationWindowTruncation(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	old := week0.AddDate(0, 0, -7*10) // well outside the 8-week window
	if err := st.ApplyLoadDeltas(ctx, []model.LoadDelta{
		{FamilyID: "f1", GroupID: "g1", WeekStart: old, Trips: 99, FairShare: 0},
		{FamilyID: "f1", GroupID: "g1", WeekStart: week0, Trips: 3, FairShare: 2},
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	dev, err := l.ComputeDeviation(ctx, "g1", week0)
	if err != nil {
		t.Fatalf("deviation: %v", err)
	}
	if dev["f1"] != 1 {
		t.Fatalf("old weeks must stop counting, got deviation %v", dev["f1"])
	}
}

func TestSummary(t *testing.T) {
	mean, stddev := Summary(map[string]float64{"f1": -1, "f2": 1})
	if mean != 0 {
		t.Errorf("mean = %v, want 0", mean)
	}
	if math.Abs(stddev-math.Sqrt2) > 1e-9 {
		t.Errorf("stddev = %v, want sqrt(2)", stddev)
	}
	if m, s := Summary(nil); m != 0 || s != 0 {
		t.Errorf("empty summary should be zero, got %v %v", m, s)
	}
}

// TestConvergence simulates four consecutive weeks of generation for three
// families with 2, 1 and 1 children over a ten-slot week. The rolling window
// must pull every family back to its fair share.
func TestConvergence(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	g := testGroup()
	alloc := allocate.New(allocate.Config{})

	for w := 0; w < 4; w++ {
		week := week0.AddDate(0, 0, 7*w)
		dev, err := l.ComputeDeviation(ctx, g.ID, week)
		if err != nil {
			t.Fatalf("week %d deviation: %v", w, err)
		}
		for fam, d := range dev {
			if math.Abs(d) > 2.5+1e-9 {
				t.Fatalf("week %d: family %s deviation %v outside bound", w, fam, d)
			}
		}

		var slots []model.Slot
		for d := 0; d < 5; d++ {
			date := week.AddDate(0, 0, d)
			for _, ts := range []model.TimeSlot{model.SlotMorning, model.SlotAfternoon} {
				slots = append(slots, model.Slot{
					ID: model.SlotID(g.ID, date, ts), GroupID: g.ID, Date: date, TimeSlot: ts,
				})
			}
		}
		cands := make(map[string][]allocate.Candidate)
		for _, s := range slots {
			for _, f := range g.Families {
				cands[s.ID] = append(cands[s.ID], allocate.Candidate{
					UserID: f.ParentIDs[0], FamilyID: f.ID, PreferenceRank: allocate.RankStated,
				})
			}
		}
		res := alloc.Allocate(slots, cands, dev, allocate.Weights{Fairness: 1, Preference: 0.25})
		if len(res.Unresolved) != 0 {
			t.Fatalf("week %d: unresolved slots %v", w, res.Unresolved)
		}

		var assignments []model.Assignment
		for slotID, userID := range res.Assigned {
			assignments = append(assignments, model.Assignment{
				ID: slotID, GroupID: g.ID, WeekStart: week, DriverID: userID,
			})
		}
		if err := l.Apply(ctx, l.ScheduleDeltas(g, week, assignments)); err != nil {
			t.Fatalf("week %d apply: %v", w, err)
		}
	}

	final, err := l.ComputeDeviation(ctx, g.ID, week0.AddDate(0, 0, 7*3))
	if err != nil {
		t.Fatalf("final deviation: %v", err)
	}
	for fam, d := range final {
		if math.Abs(d) > 1e-9 {
			t.Errorf("family %s did not converge: deviation %v", fam, d)
		}
	}
}
