package model

import (
	"fmt"
	"time"
)

// TimeSlot identifies the half of a school day a driving slot covers.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"
	SlotAfternoon TimeSlot = "afternoon"
)

// Order returns the intra-day ordering of the slot, morning before afternoon.
func (t TimeSlot) Order() int {
	if t == SlotMorning {
		return 0
	}
	return 1
}

func (t TimeSlot) String() string { return string(t) }

// Valid reports whether the slot is one of the known values.
func (t TimeSlot) Valid() bool { return t == SlotMorning || t == SlotAfternoon }

// Slot is a single driving obligation derived from a group's weekly template.
type Slot struct {
	ID       string
	GroupID  string
	Date     time.Time
	TimeSlot TimeSlot
}

// SlotID builds the canonical slot identifier for a (group, date, timeSlot).
func SlotID(groupID string, date time.Time, ts TimeSlot) string {
	return fmt.Sprintf("%s/%s/%s", groupID, date.Format("2006-01-02"), ts)
}

// DayPreference captures what a parent offered for one day of the week.
type DayPreference struct {
	CanDrive         bool
	CanPassenger     bool
	PreferredPickup  TimeSlot // empty if no stated preference
	PreferredDropoff TimeSlot
	Notes            string
}

// WeeklyPreference is one parent's availability submission for one group week.
// It becomes immutable once the week's generation has committed.
type WeeklyPreference struct {
	UserID    string
	GroupID   string
	WeekStart time.Time
	PerDay    map[time.Weekday]DayPreference
	CreatedAt time.Time
}

// DriveDays returns the weekdays the parent offered to drive, unsorted.
func (p WeeklyPreference) DriveDays() []time.Weekday {
	var days []time.Weekday
	for d, dp := range p.PerDay {
		if dp.CanDrive {
			days = append(days, d)
		}
	}
	return days
}

// PrefersSlot reports whether the parent stated a preferred time matching the
// slot, and whether any preference was stated at all for that day.
func (p WeeklyPreference) PrefersSlot(day time.Weekday, ts TimeSlot) (match, stated bool) {
	dp, ok := p.PerDay[day]
	if !ok {
		return false, false
	}
	switch ts {
	case SlotMorning:
		return dp.PreferredPickup == SlotMorning, dp.PreferredPickup != ""
	case SlotAfternoon:
		return dp.PreferredDropoff == SlotAfternoon, dp.PreferredDropoff != ""
	}
	return false, false
}

// ConfirmationStatus tracks a driver's response to a committed assignment.
type ConfirmationStatus string

const (
	ConfirmationPending    ConfirmationStatus = "pending"
	ConfirmationConfirmed  ConfirmationStatus = "confirmed"
	ConfirmationDeclined   ConfirmationStatus = "declined"
	ConfirmationNoResponse ConfirmationStatus = "no_response"
	ConfirmationCancelled  ConfirmationStatus = "cancelled"
)

func (s ConfirmationStatus) String() string { return string(s) }

// Terminal reports whether no further confirmation transitions are allowed.
func (s ConfirmationStatus) Terminal() bool { return s != ConfirmationPending }

// Assignment is one committed driving slot. One exists per
// (group, date, timeSlot) for a generated week.
type Assignment struct {
	ID           string
	GroupID      string
	WeekStart    time.Time
	Date         time.Time
	TimeSlot     TimeSlot
	DriverID     string
	PassengerIDs []string
	Status       ConfirmationStatus
	Notes        string
	CreatedAt    time.Time
	RespondedAt  *time.Time
}

// SlotID returns the canonical identifier of the slot this assignment fills.
func (a Assignment) SlotID() string { return SlotID(a.GroupID, a.Date, a.TimeSlot) }

// SwapStatus is the state of a swap request.
type SwapStatus string

const (
	SwapPending      SwapStatus = "pending"
	SwapAccepted     SwapStatus = "accepted"
	SwapDeclined     SwapStatus = "declined"
	SwapAutoAccepted SwapStatus = "auto_accepted"
	SwapExpired      SwapStatus = "expired"
	SwapCancelled    SwapStatus = "cancelled"
)

func (s SwapStatus) String() string { return string(s) }

// Terminal reports whether the swap request reached a final state.
func (s SwapStatus) Terminal() bool { return s != SwapPending }

// Resolved reports whether the swap took effect on the assignment.
func (s SwapStatus) Resolved() bool { return s == SwapAccepted || s == SwapAutoAccepted }

// SwapRole selects which side of an assignment a swap renegotiates.
type SwapRole string

const (
	RoleDriver    SwapRole = "driver"
	RolePassenger SwapRole = "passenger"
)

// Priority signals how urgently the requester needs the swap.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ProposedChange describes what the requester wants instead of the original
// obligation.
type ProposedChange struct {
	Date     time.Time
	TimeSlot TimeSlot
	Role     SwapRole
}

// SwapRequest renegotiates a single assignment between two parents. At most
// one non-terminal request may exist per assignment.
type SwapRequest struct {
	ID             string
	AssignmentID   string
	RequesterID    string
	TargetParentID string // empty = open offer, first eligible responder wins
	Change         ProposedChange
	Reason         string
	Priority       Priority
	Status         SwapStatus
	AutoAcceptAt   time.Time // zero for intra-family fast-path requests
	CreatedAt      time.Time
	RespondedAt    *time.Time
	ResponseNote   string
}

// Open reports whether the request is an open offer without a named target.
func (r SwapRequest) Open() bool { return r.TargetParentID == "" }

// WeekLoad is one family's driving load for a single week: trips actually
// assigned and the fair share owed for that week. FairnessRecord totals are
// sums of these rows over the ledger's rolling window.
type WeekLoad struct {
	FamilyID  string
	GroupID   string
	WeekStart time.Time
	Trips     float64
	FairShare float64
}

// LoadDelta adjusts one family's week load. Deltas belonging to one commit or
// swap are applied atomically as a unit.
type LoadDelta struct {
	FamilyID  string
	GroupID   string
	WeekStart time.Time
	Trips     float64
	FairShare float64
}

// NormalizeWeek snaps t to the Monday of its week at midnight UTC. All
// week-keyed records use this canonical form.
func NormalizeWeek(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
