// Package allocate assigns drivers to slots for one group week using a
// weighted greedy strategy. Scores combine fairness deviation and stated
// time preferences. The pass is single and deterministic: not globally
// optimal, but reproducible and explainable.
package allocate

import (
	"sort"

	"github.com/kidlift/kidlift/core/model"
)

// Weights tunes the scoring terms. Preference is zero when the run does not
// prioritize preferences.
type Weights struct {
	Fairness   float64 `json:"fairness"`
	Preference float64 `json:"preference"`
}

// Config defines allocator parameters loaded from configuration.
type Config struct {
	Weights Weights `json:"weights"`
	// DailyCap limits slots per user per day within one run.
	DailyCap int `json:"daily_cap"`
	// WeeklyCap limits slots per user within one run. Zero means unlimited.
	WeeklyCap int `json:"weekly_cap"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Weights.Fairness == 0 {
		c.Weights.Fairness = 1.0
	}
	if c.Weights.Preference == 0 {
		c.Weights.Preference = 0.25
	}
	if c.DailyCap <= 0 {
		c.DailyCap = 1
	}
}

// Candidate is a driver eligible for a slot.
type Candidate struct {
	UserID         string
	FamilyID       string
	PreferenceRank float64
}

// Preference ranks. A stated preference that matches the slot beats a stated
// one that does not, which in turn beats saying nothing.
const (
	RankMatch  = 1.0
	RankStated = 0.0
	RankNone   = -0.5
)

// PreferenceRank maps a preference lookup onto the scoring scale.
func PreferenceRank(match, stated bool) float64 {
	switch {
	case match:
		return RankMatch
	case stated:
		return RankStated
	default:
		return RankNone
	}
}

// Result reports the outcome of one allocation run. Unresolved slots carry no
// assignment and are left for the orchestrator's partial-generation policy.
type Result struct {
	Assigned   map[string]string // slotID -> userID
	Unresolved []string
	Scores     map[string]map[string]float64 // slotID -> userID -> score
}

// Allocator implements the greedy assignment pass.
type Allocator struct {
	cfg Config
}

// New creates an Allocator with defaults applied.
func New(cfg Config) *Allocator {
	cfg.SetDefaults()
	return &Allocator{cfg: cfg}
}

// score computes the candidate's score for a slot. Higher is better: families
// below their fair share (negative deviation) score up.
func (a *Allocator) score(c Candidate, deviation map[string]float64, w Weights) float64 {
	return w.Fairness*(-deviation[c.FamilyID]) + w.Preference*c.PreferenceRank
}

// Allocate assigns a driver to every slot it can. Slots are processed in
// ascending date order, morning before afternoon, so repeated runs over the
// same inputs produce identical results. Ties break on the lowest user id.
// Allocate never fails; unfillable slots are reported as unresolved.
func (a *Allocator) Allocate(slots []model.Slot, candidates map[string][]Candidate, deviation map[string]float64, weights Weights) Result {
	ordered := append([]model.Slot(nil), slots...)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].TimeSlot.Order() < ordered[j].TimeSlot.Order()
	})

	res := Result{
		Assigned: make(map[string]string, len(ordered)),
		Scores:   make(map[string]map[string]float64, len(ordered)),
	}
	perDay := make(map[string]map[string]int) // userID -> date -> count
	perWeek := make(map[string]int)

	for _, slot := range ordered {
		day := slot.Date.Format("2006-01-02")
		var best *Candidate
		var bestScore float64
		scores := make(map[string]float64)
		for i := range candidates[slot.ID] {
			c := candidates[slot.ID][i]
			if perDay[c.UserID][day] >= a.cfg.DailyCap {
				continue
			}
			if a.cfg.WeeklyCap > 0 && perWeek[c.UserID] >= a.cfg.WeeklyCap {
				continue
			}
			s := a.score(c, deviation, weights)
			scores[c.UserID] = s
			if best == nil || s > bestScore || (s == bestScore && c.UserID < best.UserID) {
				best = &candidates[slot.ID][i]
				bestScore = s
			}
		}
		res.Scores[slot.ID] = scores
		if best == nil {
			res.Unresolved = append(res.Unresolved, slot.ID)
			slotsUnresolved.WithLabelValues(slot.GroupID).Inc()
			continue
		}
		res.Assigned[slot.ID] = best.UserID
		if perDay[best.UserID] == nil {
			perDay[best.UserID] = make(map[string]int)
		}
		perDay[best.UserID][day]++
		perWeek[best.UserID]++
		slotsAssigned.WithLabelValues(slot.GroupID).Inc()
	}
	return res
}
