package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kidlift/kidlift/core/model"
)

// MemoryStore is an in-process Store used by tests and the memory driver.
// All reads return copies so callers can never mutate stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	preferences map[string]model.WeeklyPreference // userID/groupID/week
	assignments map[string]model.Assignment       // by id
	slots       map[string]string                 // slotID -> assignment id
	swaps       map[string]model.SwapRequest      // by id
	loads       map[string]model.WeekLoad         // familyID/groupID/week
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		preferences: map[string]model.WeeklyPreference{},
		assignments: map[string]model.Assignment{},
		slots:       map[string]string{},
		swaps:       map[string]model.SwapRequest{},
		loads:       map[string]model.WeekLoad{},
	}
}

func prefKey(userID, groupID string, week time.Time) string {
	return fmt.Sprintf("%s/%s/%s", userID, groupID, week.Format("2006-01-02"))
}

func loadKey(familyID, groupID string, week time.Time) string {
	return fmt.Sprintf("%s/%s/%s", familyID, groupID, week.Format("2006-01-02"))
}

func copyPreference(p model.WeeklyPreference) model.WeeklyPreference {
	perDay := make(map[time.Weekday]model.DayPreference, len(p.PerDay))
	for d, dp := range p.PerDay {
		perDay[d] = dp
	}
	p.PerDay = perDay
	return p
}

func copyAssignment(a model.Assignment) model.Assignment {
	a.PassengerIDs = append([]string(nil), a.PassengerIDs...)
	if a.RespondedAt != nil {
		t := *a.RespondedAt
		a.RespondedAt = &t
	}
	return a
}

func copySwap(r model.SwapRequest) model.SwapRequest {
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		r.RespondedAt = &t
	}
	return r
}

// SavePreference stores or supersedes a submission for (user, group, week).
func (s *MemoryStore) SavePreference(_ context.Context, p model.WeeklyPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.WeekStart = model.NormalizeWeek(p.WeekStart)
	s.preferences[prefKey(p.UserID, p.GroupID, p.WeekStart)] = copyPreference(p)
	return nil
}

// PreferencesForWeek implements PreferenceStore.
func (s *MemoryStore) PreferencesForWeek(_ context.Context, groupID string, weekStart time.Time) ([]model.WeeklyPreference, error) {
	weekStart = model.NormalizeWeek(weekStart)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.WeeklyPreference
	for _, p := range s.preferences {
		if p.GroupID == groupID && p.WeekStart.Equal(weekStart) {
			res = append(res, copyPreference(p))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

// Assignment implements AssignmentStore.
func (s *MemoryStore) Assignment(_ context.Context, id string) (model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, model.ErrNotFound
	}
	return copyAssignment(a), nil
}

// AssignmentsForWeek implements AssignmentStore.
func (s *MemoryStore) AssignmentsForWeek(_ context.Context, groupID string, weekStart time.Time) ([]model.Assignment, error) {
	weekStart = model.NormalizeWeek(weekStart)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Assignment
	for _, a := range s.assignments {
		if a.GroupID == groupID && a.WeekStart.Equal(weekStart) {
			res = append(res, copyAssignment(a))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.Before(res[j].Date)
		}
		return res[i].TimeSlot.Order() < res[j].TimeSlot.Order()
	})
	return res, nil
}

// PendingBefore implements AssignmentStore.
func (s *MemoryStore) PendingBefore(_ context.Context, cutoff time.Time) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Assignment
	for _, a := range s.assignments {
		if a.Status == model.ConfirmationPending && !a.CreatedAt.After(cutoff) {
			res = append(res, copyAssignment(a))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// UpdateAssignment implements AssignmentStore.
func (s *MemoryStore) UpdateAssignment(_ context.Context, a model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return model.ErrNotFound
	}
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

// SwapRequest implements SwapStore.
func (s *MemoryStore) SwapRequest(_ context.Context, id string) (model.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.swaps[id]
	if !ok {
		return model.SwapRequest{}, model.ErrNotFound
	}
	return copySwap(r), nil
}

// ActiveSwapForAssignment implements SwapStore.
func (s *MemoryStore) ActiveSwapForAssignment(_ context.Context, assignmentID string) (model.SwapRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.swaps {
		if r.AssignmentID == assignmentID && !r.Status.Terminal() {
			return copySwap(r), true, nil
		}
	}
	return model.SwapRequest{}, false, nil
}

// SaveSwapRequest implements SwapStore.
func (s *MemoryStore) SaveSwapRequest(_ context.Context, r model.SwapRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.swaps[r.ID]; ok {
		return model.ErrConflict
	}
	s.swaps[r.ID] = copySwap(r)
	return nil
}

// UpdateSwapRequest implements SwapStore.
func (s *MemoryStore) UpdateSwapRequest(_ context.Context, r model.SwapRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.swaps[r.ID]; !ok {
		return model.ErrNotFound
	}
	s.swaps[r.ID] = copySwap(r)
	return nil
}

// PendingSwapsDue implements SwapStore.
func (s *MemoryStore) PendingSwapsDue(_ context.Context, now time.Time) ([]model.SwapRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.SwapRequest
	for _, r := range s.swaps {
		if r.Status == model.SwapPending && !r.AutoAcceptAt.IsZero() && !r.AutoAcceptAt.After(now) {
			res = append(res, copySwap(r))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// WeekLoads implements FairnessStore.
func (s *MemoryStore) WeekLoads(_ context.Context, groupID string, from, to time.Time) ([]model.WeekLoad, error) {
	from, to = model.NormalizeWeek(from), model.NormalizeWeek(to)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.WeekLoad
	for _, l := range s.loads {
		if l.GroupID == groupID && !l.WeekStart.Before(from) && !l.WeekStart.After(to) {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].WeekStart.Equal(res[j].WeekStart) {
			return res[i].WeekStart.Before(res[j].WeekStart)
		}
		return res[i].FamilyID < res[j].FamilyID
	})
	return res, nil
}

// ApplyLoadDeltas implements FairnessStore.
func (s *MemoryStore) ApplyLoadDeltas(_ context.Context, deltas []model.LoadDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyDeltasLocked(deltas)
	return nil
}

func (s *MemoryStore) applyDeltasLocked(deltas []model.LoadDelta) {
	for _, d := range deltas {
		week := model.NormalizeWeek(d.WeekStart)
		key := loadKey(d.FamilyID, d.GroupID, week)
		l, ok := s.loads[key]
		if !ok {
			l = model.WeekLoad{FamilyID: d.FamilyID, GroupID: d.GroupID, WeekStart: week}
		}
		l.Trips += d.Trips
		l.FairShare += d.FairShare
		s.loads[key] = l
	}
}

// CommitSchedule implements Store. Nothing is written when any slot is
// already taken.
func (s *MemoryStore) CommitSchedule(_ context.Context, assignments []model.Assignment, deltas []model.LoadDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assignments {
		if _, taken := s.slots[a.SlotID()]; taken {
			return fmt.Errorf("slot %s already assigned: %w", a.SlotID(), model.ErrConflict)
		}
	}
	for _, a := range assignments {
		s.assignments[a.ID] = copyAssignment(a)
		s.slots[a.SlotID()] = a.ID
	}
	s.applyDeltasLocked(deltas)
	return nil
}

// ApplySwap implements Store. The swap request is upserted.
func (s *MemoryStore) ApplySwap(_ context.Context, a model.Assignment, r model.SwapRequest, deltas []model.LoadDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return model.ErrNotFound
	}
	s.assignments[a.ID] = copyAssignment(a)
	s.swaps[r.ID] = copySwap(r)
	s.applyDeltasLocked(deltas)
	return nil
}

// ResolveAssignment implements Store.
func (s *MemoryStore) ResolveAssignment(_ context.Context, a model.Assignment, deltas []model.LoadDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return model.ErrNotFound
	}
	s.assignments[a.ID] = copyAssignment(a)
	s.applyDeltasLocked(deltas)
	return nil
}
