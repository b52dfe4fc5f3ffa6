// Package fairness maintains rolling driving-load history per family and
// computes each family's deviation from its fair share. Deviation is the
// primary tie-break signal of the allocator: positive means the family drove
// more than it owed.
package fairness

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kidlift/kidlift/core/group"
	"github.com/kidlift/kidlift/core/logger"
	"github.com/kidlift/kidlift/core/model"
	"github.com/kidlift/kidlift/core/store"
)

// Config defines ledger parameters.
type Config struct {
	// WindowWeeks bounds how far back deviation looks. Weeks outside the
	// window stop counting entirely (hard truncation), so old imbalances
	// self-correct instead of accumulating forever.
	WindowWeeks int `json:"window_weeks"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.WindowWeeks <= 0 {
		c.WindowWeeks = 8
	}
}

// Ledger reads and derives fairness state. All mutations are expressed as
// LoadDelta sets and applied through the store's atomic commit operations,
// never one record at a time.
type Ledger struct {
	store  store.FairnessStore
	window int
	log    logger.Logger
}

// NewLedger creates a Ledger over the given store.
func NewLedger(st store.FairnessStore, cfg Config, log logger.Logger) *Ledger {
	cfg.SetDefaults()
	return &Ledger{store: st, window: cfg.WindowWeeks, log: log}
}

// ComputeDeviation returns tripsAssigned − fairShare per family, summed over
// the window of weeks ending at asOfWeek inclusive. Families with no load
// rows in the window are absent from the map and read as zero.
func (l *Ledger) ComputeDeviation(ctx context.Context, groupID string, asOfWeek time.Time) (map[string]float64, error) {
	asOf := model.NormalizeWeek(asOfWeek)
	from := asOf.AddDate(0, 0, -7*(l.window-1))
	loads, err := l.store.WeekLoads(ctx, groupID, from, asOf)
	if err != nil {
		return nil, err
	}
	dev := make(map[string]float64)
	for _, ld := range loads {
		dev[ld.FamilyID] += ld.Trips - ld.FairShare
	}
	return dev, nil
}

// ScheduleDeltas builds the atomic delta set for a committed generation run:
// one trip per assignment against the driver's family, plus each family's
// fair share of the week (slots × children / totalChildren).
func (l *Ledger) ScheduleDeltas(g group.Group, weekStart time.Time, assignments []model.Assignment) []model.LoadDelta {
	week := model.NormalizeWeek(weekStart)
	trips := make(map[string]float64)
	for _, a := range assignments {
		fam, ok := g.FamilyOf(a.DriverID)
		if !ok {
			l.log.Warnf("driver %s not in group %s roster, skipping ledger credit", a.DriverID, g.ID)
			continue
		}
		trips[fam.ID]++
	}
	total := g.TotalChildren()
	var deltas []model.LoadDelta
	for _, f := range g.Families {
		d := model.LoadDelta{FamilyID: f.ID, GroupID: g.ID, WeekStart: week, Trips: trips[f.ID]}
		if total > 0 {
			d.FairShare = float64(len(assignments)) * float64(f.ChildCount) / float64(total)
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// SwapDeltas builds the delta set for a resolved driver swap: one trip moves
// from the old driver's family to the new one. Intra-family swaps produce no
// deltas.
func (l *Ledger) SwapDeltas(g group.Group, weekStart time.Time, oldDriverID, newDriverID string) []model.LoadDelta {
	oldFam, okOld := g.FamilyOf(oldDriverID)
	newFam, okNew := g.FamilyOf(newDriverID)
	if !okOld || !okNew || oldFam.ID == newFam.ID {
		return nil
	}
	week := model.NormalizeWeek(weekStart)
	return []model.LoadDelta{
		{FamilyID: oldFam.ID, GroupID: g.ID, WeekStart: week, Trips: -1},
		{FamilyID: newFam.ID, GroupID: g.ID, WeekStart: week, Trips: 1},
	}
}

// DeclineDeltas removes the trip credit for a declined assignment so the
// family does not keep load it refused to carry.
func (l *Ledger) DeclineDeltas(g group.Group, a model.Assignment) []model.LoadDelta {
	fam, ok := g.FamilyOf(a.DriverID)
	if !ok {
		return nil
	}
	return []model.LoadDelta{
		{FamilyID: fam.ID, GroupID: g.ID, WeekStart: model.NormalizeWeek(a.WeekStart), Trips: -1},
	}
}

// Apply writes a delta set through the store as one atomic unit.
func (l *Ledger) Apply(ctx context.Context, deltas []model.LoadDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	return l.store.ApplyLoadDeltas(ctx, deltas)
}

// Summary condenses a deviation map into its mean and standard deviation,
// reported after each generation run.
func Summary(dev map[string]float64) (mean, stddev float64) {
	if len(dev) == 0 {
		return 0, 0
	}
	vals := make([]float64, 0, len(dev))
	keys := make([]string, 0, len(dev))
	for k := range dev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vals = append(vals, dev[k])
	}
	mean = stat.Mean(vals, nil)
	if len(vals) > 1 {
		stddev = stat.StdDev(vals, nil)
	}
	return mean, stddev
}
