package group

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

func rosterGroup() Group {
	return Group{
		ID: "g1",
		Families: []Family{
			{ID: "f1", ParentIDs: []string{"u1", "u1b"}, ChildCount: 2},
			{ID: "f2", ParentIDs: []string{"u2"}, ChildCount: 1},
		},
		Template: []TemplateSlot{
			{Weekday: time.Monday, TimeSlot: model.SlotMorning},
			{Weekday: time.Wednesday, TimeSlot: model.SlotAfternoon},
		},
	}
}

func TestFamilyOf(t *testing.T) {
	g := rosterGroup()
	if f, ok := g.FamilyOf("u1b"); !ok || f.ID != "f1" {
		t.Errorf("FamilyOf(u1b) = %v %v", f, ok)
	}
	if _, ok := g.FamilyOf("stranger"); ok {
		t.Error("stranger should not resolve")
	}
}

func TestSameFamily(t *testing.T) {
	g := rosterGroup()
	if !g.SameFamily("u1", "u1b") {
		t.Error("u1 and u1b share a household")
	}
	if g.SameFamily("u1", "u2") {
		t.Error("u1 and u2 do not")
	}
	if g.SameFamily("u1", "stranger") {
		t.Error("unknown users never match")
	}
}

func TestTotalChildrenAndMembership(t *testing.T) {
	g := rosterGroup()
	if g.TotalChildren() != 3 {
		t.Errorf("TotalChildren = %d", g.TotalChildren())
	}
	if !g.Member("u2") || g.Member("nope") {
		t.Error("membership wrong")
	}
	parents := g.Parents()
	if len(parents) != 3 || parents[0] != "u1" || parents[2] != "u2" {
		t.Errorf("Parents = %v", parents)
	}
}

func TestSlotsExpansion(t *testing.T) {
	g := rosterGroup()
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// Expanded from a midweek date; slots still land on the template days.
	slots := g.Slots(monday.AddDate(0, 0, 3))
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Date.Equal(monday) || slots[0].TimeSlot != model.SlotMorning {
		t.Errorf("first slot %+v", slots[0])
	}
	wednesday := monday.AddDate(0, 0, 2)
	if !slots[1].Date.Equal(wednesday) || slots[1].TimeSlot != model.SlotAfternoon {
		t.Errorf("second slot %+v", slots[1])
	}
	if slots[0].ID != model.SlotID("g1", monday, model.SlotMorning) {
		t.Errorf("slot id %q", slots[0].ID)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(rosterGroup())
	g, err := p.Group(context.Background(), "g1")
	if err != nil || g.ID != "g1" {
		t.Fatalf("Group(g1) = %v %v", g, err)
	}
	if _, err := p.Group(context.Background(), "g2"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
