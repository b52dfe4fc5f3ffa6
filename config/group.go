package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kidlift/kidlift/core/group"
	"github.com/kidlift/kidlift/core/model"
)

// FamilyConfig describes one family in the group roster.
type FamilyConfig struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ParentIDs []string `json:"parent_ids"`
	Children  int      `json:"children"`
}

// TemplateSlotConfig is one weekly recurring slot, e.g. "monday morning".
type TemplateSlotConfig struct {
	Day  string `json:"day"`
	Slot string `json:"slot"`
}

// GroupConfig describes a carpool group roster and its weekly template.
type GroupConfig struct {
	ID                 string               `json:"id"`
	Name               string               `json:"name"`
	AdminIDs           []string             `json:"admin_ids"`
	IsAcceptingMembers bool                 `json:"is_accepting_members"`
	Capacity           int                  `json:"capacity"`
	Families           []FamilyConfig       `json:"families"`
	Template           []TemplateSlotConfig `json:"template"`
}

var weekdayNames = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// Validate checks the roster for structural problems.
func (c GroupConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("group id is required")
	}
	if len(c.Families) == 0 {
		return fmt.Errorf("group %s has no families", c.ID)
	}
	for _, f := range c.Families {
		if f.ID == "" {
			return fmt.Errorf("group %s has a family without id", c.ID)
		}
		if len(f.ParentIDs) == 0 {
			return fmt.Errorf("family %s has no parents", f.ID)
		}
		if f.Children <= 0 {
			return fmt.Errorf("family %s has no children", f.ID)
		}
	}
	for _, t := range c.Template {
		if _, ok := weekdayNames[strings.ToLower(t.Day)]; !ok {
			return fmt.Errorf("group %s: unknown weekday %q", c.ID, t.Day)
		}
		if !model.TimeSlot(strings.ToLower(t.Slot)).Valid() {
			return fmt.Errorf("group %s: unknown time slot %q", c.ID, t.Slot)
		}
	}
	return nil
}

// ToGroup converts the roster into the domain representation.
func (c GroupConfig) ToGroup() group.Group {
	g := group.Group{
		ID:                 c.ID,
		Name:               c.Name,
		AdminIDs:           append([]string(nil), c.AdminIDs...),
		IsAcceptingMembers: c.IsAcceptingMembers,
		Capacity:           c.Capacity,
	}
	for _, f := range c.Families {
		g.Families = append(g.Families, group.Family{
			ID:         f.ID,
			Name:       f.Name,
			ParentIDs:  append([]string(nil), f.ParentIDs...),
			ChildCount: f.Children,
		})
	}
	for _, t := range c.Template {
		g.Template = append(g.Template, group.TemplateSlot{
			Weekday:  weekdayFrom(t.Day),
			TimeSlot: model.TimeSlot(strings.ToLower(t.Slot)),
		})
	}
	return g
}

func weekdayFrom(name string) time.Weekday {
	return time.Weekday(weekdayNames[strings.ToLower(name)])
}
