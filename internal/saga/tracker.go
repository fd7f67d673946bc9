package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the tracked position of a workflow.
type State string

const (
	StateInitiated         State = "initiated"
	StatePaymentRequested  State = "payment_requested"
	StateShippingRequested State = "shipping_requested"
	StateCompleted         State = "completed"
	StateStockUpdateFailed State = "stock_update_failed"
	StateFailed            State = "failed"
)

// Terminal reports whether no further events are accepted in s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateStockUpdateFailed, StateFailed:
		return true
	}
	return false
}

func (s State) rank() int {
	switch s {
	case StateInitiated:
		return 1
	case StatePaymentRequested:
		return 2
	case StateShippingRequested:
		return 3
	case StateCompleted, StateStockUpdateFailed, StateFailed:
		return 4
	}
	return 0
}

// Event is an inbound workflow message kind.
type Event string

const (
	EventInitiation      Event = "initiation"
	EventPaymentOutcome  Event = "payment_outcome"
	EventShippingOutcome Event = "shipping_outcome"
)

// ErrInvalidTransition marks a duplicate or out-of-order event.
var ErrInvalidTransition = errors.New("saga: invalid transition")

// admissible lists the states each event may arrive in. An outcome may overtake the
// commit of the command that caused it, so each outcome also accepts the state
// just before its command was recorded as sent.
var admissible = map[Event][]State{
	EventInitiation:      {StateInitiated},
	EventPaymentOutcome:  {StateInitiated, StatePaymentRequested},
	EventShippingOutcome: {StatePaymentRequested, StateShippingRequested},
}

// Record is the tracked state of one workflow.
type Record struct {
	WorkflowID string    `json:"workflowId"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Degraded   bool      `json:"degraded"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Tracker is the explicit per-workflow state machine. Records are retained for
// retention after their last update.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]Record
	retention time.Duration
	now       func() time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{records: make(map[string]Record), retention: retention, now: time.Now}
}

// Admit checks whether ev may be applied to the workflow. Unknown workflows admit every event.
func (t *Tracker) Admit(id string, ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return nil
	}
	for _, s := range admissible[ev] {
		if rec.State == s {
			return nil
		}
	}
	return fmt.Errorf("%s in state %s: %w", ev, rec.State, ErrInvalidTransition)
}

// Commit moves the workflow forward to state. Commits that would move it backwards are ignored.
// Degraded is sticky once set.
func (t *Tracker) Commit(id string, state State, reason string, degraded bool) Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if ok && rec.State.rank() >= state.rank() {
		if degraded && !rec.Degraded {
			rec.Degraded = true
			t.records[id] = rec
		}
		return rec
	}
	rec = Record{
		WorkflowID: id,
		State:      state,
		Reason:     reason,
		Degraded:   degraded || rec.Degraded,
		UpdatedAt:  t.now().UTC(),
	}
	t.records[id] = rec
	return rec
}

// Get returns the record for id.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	return rec, ok
}

// Evict drops records not updated within the retention window.
func (t *Tracker) Evict(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.retention)
	removed := 0
	for id, rec := range t.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed, nil
}
