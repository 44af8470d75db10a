package entity

import (
	"sync"
	"time"
)

// ActionKind identifies which workflow handled an action.
type ActionKind string

// Action kinds.
const (
	KindDeployment   ActionKind = "deployment"
	KindCancel       ActionKind = "cancel"
	KindConfirmation ActionKind = "confirmation"
)

// ActionState is a step of an action's local state machine.
type ActionState string

// Action states. A deployment walks
// detected -> proceeding -> downloading -> downloaded -> installing -> closed|failed.
const (
	StateDetected    ActionState = "detected"
	StateProceeding  ActionState = "proceeding"
	StateDownloading ActionState = "downloading"
	StateDownloaded  ActionState = "downloaded"
	StateInstalling  ActionState = "installing"
	StateClosed      ActionState = "closed"
	StateFailed      ActionState = "failed"
)

// ActionRecord is an immutable snapshot of a handled action.
type ActionRecord struct {
	ID        string      `json:"id"`
	Kind      ActionKind  `json:"kind"`
	State     ActionState `json:"state"`
	StartTime time.Time   `json:"start_time"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// TrackedAction is an ActionRecord with thread-safe transitions.
type TrackedAction struct {
	record ActionRecord
	mu     sync.RWMutex
}

// NewTrackedAction creates an action in the detected state.
func NewTrackedAction(id string, kind ActionKind) *TrackedAction {
	return &TrackedAction{
		record: ActionRecord{
			ID:        id,
			Kind:      kind,
			State:     StateDetected,
			StartTime: time.Now(),
		},
	}
}

// SetState moves the action to a non-terminal state.
func (a *TrackedAction) SetState(state ActionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.State = state
}

// Complete marks the action as closed.
func (a *TrackedAction) Complete() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.State = StateClosed
	now := time.Now()
	a.record.EndTime = &now
}

// Fail marks the action as failed with an error.
func (a *TrackedAction) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record.State = StateFailed
	if err != nil {
		a.record.Error = err.Error()
	}
	now := time.Now()
	a.record.EndTime = &now
}

// State returns the current state.
func (a *TrackedAction) State() ActionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.record.State
}

// IsTerminal reports whether the action is closed or failed.
func (a *TrackedAction) IsTerminal() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.record.State == StateClosed || a.record.State == StateFailed
}

// Snapshot returns a copy of the record.
func (a *TrackedAction) Snapshot() ActionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec := a.record
	if rec.EndTime != nil {
		end := *rec.EndTime
		rec.EndTime = &end
	}
	return rec
}
