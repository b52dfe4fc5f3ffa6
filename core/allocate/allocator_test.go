package allocate

import (
	"reflect"
	"testing"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

func day(d int) time.Time {
	return time.Date(2026, 3, 2+d, 0, 0, 0, 0, time.UTC)
}

func weekSlots(groupID string, days int) []model.Slot {
	var slots []model.Slot
	for d := 0; d < days; d++ {
		for _, ts := range []model.TimeSlot{model.SlotMorning, model.SlotAfternoon} {
			slots = append(slots, model.Slot{
				ID:       model.SlotID(groupID, day(d), ts),
				GroupID:  groupID,
				Date:     day(d),
				TimeSlot: ts,
			})
		}
	}
	return slots
}

func sameCandidates(slots []model.Slot, cands ...Candidate) map[string][]Candidate {
	m := make(map[string][]Candidate)
	for _, s := range slots {
		m[s.ID] = append([]Candidate(nil), cands...)
	}
	return m
}

func TestAllocateDeterministic(t *testing.T) {
	slots := weekSlots("g1", 5)
	cands := sameCandidates(slots,
		Candidate{UserID: "u1", FamilyID: "f1", PreferenceRank: RankStated},
		Candidate{UserID: "u2", FamilyID: "f2", PreferenceRank: RankMatch},
		Candidate{UserID: "u3", FamilyID: "f3", PreferenceRank: RankNone},
	)
	dev := map[string]float64{"f1": -1.5, "f2": 0.5, "f3": 1.0}
	a := New(Config{})

	first := a.Allocate(slots, cands, dev, Weights{Fairness: 1, Preference: 0.25})
	for i := 0; i < 5; i++ {
		again := a.Allocate(slots, cands, dev, Weights{Fairness: 1, Preference: 0.25})
		if !reflect.DeepEqual(first.Assigned, again.Assigned) {
			t.Fatalf("run %d diverged: %v vs %v", i, first.Assigned, again.Assigned)
		}
		if !reflect.DeepEqual(first.Unresolved, again.Unresolved) {
			t.Fatalf("run %d unresolved diverged", i)
		}
	}
}

func TestAllocatePrefersLowDeviation(t *testing.T) {
	slots := weekSlots("g1", 1)[:1]
	cands := sameCandidates(slots,
		Candidate{UserID: "u1", FamilyID: "f1", PreferenceRank: RankMatch},
		Candidate{UserID: "u2", FamilyID: "f2", PreferenceRank: RankMatch},
	)
	// f2 is far below its fair share and must win despite equal preference.
	dev := map[string]float64{"f1": 2, "f2": -2}
	a := New(Config{})

	res := a.Allocate(slots, cands, dev, Weights{Fairness: 1, Preference: 0.25})
	if got := res.Assigned[slots[0].ID]; got != "u2" {
		t.Fatalf("expected u2 to win, got %s", got)
	}
}

func TestAllocateTieBreakLowestUserID(t *testing.T) {
	slots := weekSlots("g1", 1)[:1]
	cands := sameCandidates(slots,
		Candidate{UserID: "zed", FamilyID: "f1", PreferenceRank: RankStated},
		Candidate{UserID: "amy", FamilyID: "f2", PreferenceRank: RankStated},
		Candidate{UserID: "bob", FamilyID: "f3", PreferenceRank: RankStated},
	)
	a := New(Config{})

	res := a.Allocate(slots, cands, map[string]float64{}, Weights{Fairness: 1, Preference: 0.25})
	if got := res.Assigned[slots[0].ID]; got != "amy" {
		t.Fatalf("tie should break to lowest user id, got %s", got)
	}
}

func TestAllocateDailyCap(t *testing.T) {
	// Two slots on the same day, one candidate: the afternoon slot must be
	// left unresolved under the default daily cap of one.
	slots := weekSlots("g1", 1)
	cands := sameCandidates(slots, Candidate{UserID: "u1", FamilyID: "f1", PreferenceRank: RankMatch})
	a := New(Config{})

	res := a.Allocate(slots, cands, nil, Weights{Fairness: 1})
	if len(res.Assigned) != 1 {
		t.Fatalf("expected 1 assignment, got %d", len(res.Assigned))
	}
	if len(res.Unresolved) != 1 {
		t.Fatalf("expected 1 unresolved slot, got %v", res.Unresolved)
	}
	morning := model.SlotID("g1", day(0), model.SlotMorning)
	if res.Assigned[morning] != "u1" {
		t.Errorf("morning slot should go to u1, got %q", res.Assigned[morning])
	}
}

func TestAllocateWeeklyCap(t *testing.T) {
	slots := weekSlots("g1", 5) // 10 slots
	cands := sameCandidates(slots,
		Candidate{UserID: "u1", FamilyID: "f1", PreferenceRank: RankMatch},
		Candidate{UserID: "u2", FamilyID: "f2", PreferenceRank: RankMatch},
	)
	a := New(Config{WeeklyCap: 3})

	res := a.Allocate(slots, cands, nil, Weights{Fairness: 1})
	counts := make(map[string]int)
	for _, u := range res.Assigned {
		counts[u]++
	}
	for u, n := range counts {
		if n > 3 {
			t.Errorf("user %s exceeded weekly cap: %d", u, n)
		}
	}
	// 2 users x cap 3 = 6 assignable out of 10.
	if len(res.Assigned) != 6 || len(res.Unresolved) != 4 {
		t.Fatalf("expected 6 assigned / 4 unresolved, got %d / %d",
			len(res.Assigned), len(res.Unresolved))
	}
}

func TestAllocateNoCandidates(t *testing.T) {
	slots := weekSlots("g1", 1)
	a := New(Config{})

	res := a.Allocate(slots, map[string][]Candidate{}, nil, Weights{Fairness: 1})
	if len(res.Assigned) != 0 {
		t.Fatalf("expected no assignments, got %v", res.Assigned)
	}
	if len(res.Unresolved) != len(slots) {
		t.Fatalf("expected all %d slots unresolved, got %d", len(slots), len(res.Unresolved))
	}
}

func TestPreferenceRank(t *testing.T) {
	cases := []struct {
		match, stated bool
		want          float64
	}{
		{true, true, RankMatch},
		{false, true, RankStated},
		{false, false, RankNone},
	}
	for _, c := range cases {
		if got := PreferenceRank(c.match, c.stated); got != c.want {
			t.Errorf("PreferenceRank(%v, %v) = %v, want %v", c.match, c.stated, got, c.want)
		}
	}
}

func TestSlotOrderWithinDay(t *testing.T) {
	groupID := "g1"
	morning := model.Slot{ID: model.SlotID(groupID, day(0), model.SlotMorning), GroupID: groupID, Date: day(0), TimeSlot: model.SlotMorning}
	afternoon := model.Slot{ID: model.SlotID(groupID, day(0), model.SlotAfternoon), GroupID: groupID, Date: day(0), TimeSlot: model.SlotAfternoon}
	// Present in reverse order; the morning slot must still be filled first.
	slots := []model.Slot{afternoon, morning}
	cands := sameCandidates(slots, Candidate{UserID: "u1", FamilyID: "f1", PreferenceRank: RankMatch})
	a := New(Config{})

	res := a.Allocate(slots, cands, nil, Weights{Fairness: 1})
	if _, ok := res.Assigned[morning.ID]; !ok {
		t.Fatalf("morning slot should be assigned, got %v", res.Assigned)
	}
	if res.Unresolved[0] != afternoon.ID {
		t.Errorf("afternoon slot should be the unresolved one, got %v", res.Unresolved)
	}
}
