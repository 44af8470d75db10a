// Package store keeps per-device poll statistics and action history.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

// DefaultMaxHistory is the number of finished actions kept per device.
const DefaultMaxHistory = 100

// Persister durably stores finished actions.
type Persister interface {
	SaveAction(ctx context.Context, controllerID string, rec entity.ActionRecord) error
}

// DeviceStatus is a point-in-time view of one simulated device.
type DeviceStatus struct {
	ControllerID    string                `json:"controller_id"`
	IntervalSeconds int                   `json:"interval_seconds"`
	Polls           int                   `json:"polls"`
	FailedPolls     int                   `json:"failed_polls"`
	LastPoll        *time.Time            `json:"last_poll,omitempty"`
	LastError       string                `json:"last_error,omitempty"`
	Actions         []entity.ActionRecord `json:"actions"`
}

type device struct {
	interval  time.Duration
	polls     int
	failed    int
	lastPoll  time.Time
	lastError string
	history   []entity.ActionRecord
}

// ActionStore records poll results and finished actions for a fleet.
// It satisfies the engine's Recorder interface.
type ActionStore struct {
	mu         sync.RWMutex
	devices    map[string]*device
	maxHistory int
	persister  Persister
	log        *logrus.Entry
}

// Option customizes an ActionStore.
type Option func(*ActionStore)

// WithMaxHistory bounds the per-device history.
func WithMaxHistory(n int) Option {
	return func(s *ActionStore) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithPersister writes every finished action through p.
func WithPersister(p Persister) Option {
	return func(s *ActionStore) { s.persister = p }
}

// WithLogger sets the entry used to report persistence errors.
func WithLogger(l *logrus.Entry) Option {
	return func(s *ActionStore) { s.log = l }
}

// NewActionStore creates an empty store.
func NewActionStore(opts ...Option) *ActionStore {
	s := &ActionStore{
		devices:    make(map[string]*device),
		maxHistory: DefaultMaxHistory,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.WithField("component", "store")
	}
	return s
}

// device must be called with s.mu held for writing.
func (s *ActionStore) device(controllerID string) *device {
	d, ok := s.devices[controllerID]
	if !ok {
		d = &device{}
		s.devices[controllerID] = d
	}
	return d
}

// Register makes a device visible before its first poll.
func (s *ActionStore) Register(controllerID string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.device(controllerID)
	if d.interval == 0 {
		d.interval = interval
	}
}

// RecordPoll stores the outcome of one poll cycle.
func (s *ActionStore) RecordPoll(controllerID string, interval time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.device(controllerID)
	d.interval = interval
	d.polls++
	d.lastPoll = time.Now()
	if err != nil {
		d.failed++
		d.lastError = err.Error()
		return
	}
	d.lastError = ""
}

// RecordAction appends a finished action to the device history.
func (s *ActionStore) RecordAction(controllerID string, rec entity.ActionRecord) {
	s.mu.Lock()
	d := s.device(controllerID)
	d.history = append(d.history, rec)
	if len(d.history) > s.maxHistory {
		d.history = d.history[len(d.history)-s.maxHistory:]
	}
	p := s.persister
	s.mu.Unlock()

	if p == nil {
		return
	}
	if err := p.SaveAction(context.Background(), controllerID, rec); err != nil {
		s.log.WithFields(logrus.Fields{
			"controller_id": controllerID,
			"action_id":     rec.ID,
			"error":         err,
		}).Warn("Failed to persist action")
	}
}

// Action returns the most recent record of actionID for a device.
func (s *ActionStore) Action(controllerID, actionID string) (entity.ActionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[controllerID]
	if !ok {
		return entity.ActionRecord{}, false
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].ID == actionID {
			return d.history[i], true
		}
	}
	return entity.ActionRecord{}, false
}

// Device returns the status of one device.
func (s *ActionStore) Device(controllerID string) (DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[controllerID]
	if !ok {
		return DeviceStatus{}, false
	}
	return d.status(controllerID), true
}

// Snapshot returns every device ordered by controller id.
func (s *ActionStore) Snapshot() []DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(s.devices))
	for id, d := range s.devices {
		out = append(out, d.status(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ControllerID < out[j].ControllerID })
	return out
}

// CleanupOldActions drops history entries that started before maxAge ago.
func (s *ActionStore) CleanupOldActions(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for _, d := range s.devices {
		kept := d.history[:0]
		for _, rec := range d.history {
			if rec.StartTime.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		d.history = kept
	}
}

func (d *device) status(controllerID string) DeviceStatus {
	st := DeviceStatus{
		ControllerID:    controllerID,
		IntervalSeconds: int(d.interval / time.Second),
		Polls:           d.polls,
		FailedPolls:     d.failed,
		LastError:       d.lastError,
		Actions:         append([]entity.ActionRecord{}, d.history...),
	}
	if !d.lastPoll.IsZero() {
		t := d.lastPoll
		st.LastPoll = &t
	}
	return st
}
