package group

import (
	"context"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

// Family is a household in a carpool group. Two-parent households list both
// parents; either may drive against the family's load.
type Family struct {
	ID         string
	Name       string
	ParentIDs  []string
	ChildCount int
}

// TemplateSlot is one recurring slot of a group's weekly schedule.
type TemplateSlot struct {
	Weekday  time.Weekday
	TimeSlot model.TimeSlot
}

// Group is a carpool group roster with its recurring slot template.
type Group struct {
	ID                 string
	Name               string
	Families           []Family
	Template           []TemplateSlot
	AdminIDs           []string
	IsAcceptingMembers bool
	Capacity           int
}

// Provider supplies group rosters and templates. Read-only to the core.
type Provider interface {
	Group(ctx context.Context, id string) (Group, error)
}

// FamilyOf returns the family the given parent belongs to.
func (g Group) FamilyOf(userID string) (Family, bool) {
	for _, f := range g.Families {
		for _, p := range f.ParentIDs {
			if p == userID {
				return f, true
			}
		}
	}
	return Family{}, false
}

// SameFamily reports whether both users belong to one household.
func (g Group) SameFamily(a, b string) bool {
	fa, oka := g.FamilyOf(a)
	fb, okb := g.FamilyOf(b)
	return oka && okb && fa.ID == fb.ID
}

// TotalChildren sums child counts over all families.
func (g Group) TotalChildren() int {
	total := 0
	for _, f := range g.Families {
		total += f.ChildCount
	}
	return total
}

// Member reports whether the user is a parent in any family of the group.
func (g Group) Member(userID string) bool {
	_, ok := g.FamilyOf(userID)
	return ok
}

// Parents returns every parent id in the group, in roster order.
func (g Group) Parents() []string {
	var ids []string
	for _, f := range g.Families {
		ids = append(ids, f.ParentIDs...)
	}
	return ids
}

// Slots expands the template into concrete slots for the week starting at
// weekStart (Monday). Order follows the template.
func (g Group) Slots(weekStart time.Time) []model.Slot {
	weekStart = model.NormalizeWeek(weekStart)
	slots := make([]model.Slot, 0, len(g.Template))
	for _, t := range g.Template {
		offset := (int(t.Weekday) + 6) % 7 // Monday = 0
		date := weekStart.AddDate(0, 0, offset)
		slots = append(slots, model.Slot{
			ID:       model.SlotID(g.ID, date, t.TimeSlot),
			GroupID:  g.ID,
			Date:     date,
			TimeSlot: t.TimeSlot,
		})
	}
	return slots
}

// StaticProvider serves a fixed set of groups, typically loaded from
// configuration.
type StaticProvider struct {
	groups map[string]Group
}

// NewStaticProvider builds a provider over the given groups.
func NewStaticProvider(groups ...Group) *StaticProvider {
	m := make(map[string]Group, len(groups))
	for _, g := range groups {
		m[g.ID] = g
	}
	return &StaticProvider{groups: m}
}

// Group implements Provider.
func (p *StaticProvider) Group(_ context.Context, id string) (Group, error) {
	g, ok := p.groups[id]
	if !ok {
		return Group{}, model.ErrNotFound
	}
	return g, nil
}
