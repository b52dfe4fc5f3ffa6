package notify

import (
	"context"
	"sync"
)

// IntentType names the kinds of notification intents the core emits. The
// delivery channel (push, email, SMS) is the dispatcher's concern.
type IntentType string

const (
	SchedulePublished    IntentType = "schedule_published"
	AssignmentReminder   IntentType = "assignment_reminder"
	SwapOffer            IntentType = "swap_offer"
	SwapResolved         IntentType = "swap_resolved"
	NoResponseEscalation IntentType = "no_response_escalation"
)

// Intent is a fire-and-forget notification request.
type Intent struct {
	ID            string         `json:"id"`
	Type          IntentType     `json:"type"`
	TargetUserIDs []string       `json:"target_user_ids"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Dispatcher accepts intents for delivery. Implementations must not block on
// downstream channels; the core does not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent Intent) error
}

// NopDispatcher discards all intents.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Intent) error { return nil }

// Recorder captures dispatched intents for tests.
type Recorder struct {
	mu      sync.Mutex
	Intents []Intent
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Dispatch records the intent.
func (r *Recorder) Dispatch(_ context.Context, intent Intent) error {
	r.mu.Lock()
	r.Intents = append(r.Intents, intent)
	r.mu.Unlock()
	return nil
}

// ByType returns the recorded intents of the given type.
func (r *Recorder) ByType(t IntentType) []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Intent
	for _, i := range r.Intents {
		if i.Type == t {
			res = append(res, i)
		}
	}
	return res
}
