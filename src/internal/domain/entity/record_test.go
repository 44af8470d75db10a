package entity

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewTrackedAction(t *testing.T) {
	tests := []struct {
		name string
		id   string
		kind ActionKind
	}{
		{name: "deployment", id: "42", kind: KindDeployment},
		{name: "cancel", id: "7", kind: KindCancel},
		{name: "empty_id", id: "", kind: KindConfirmation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := NewTrackedAction(tt.id, tt.kind)
			rec := action.Snapshot()
			if rec.ID != tt.id || rec.Kind != tt.kind {
				t.Errorf("Snapshot() = %+v, want id %q kind %q", rec, tt.id, tt.kind)
			}
			if rec.State != StateDetected {
				t.Errorf("initial state = %v, want %v", rec.State, StateDetected)
			}
			if rec.StartTime.IsZero() {
				t.Error("StartTime should be set")
			}
			if rec.EndTime != nil {
				t.Error("EndTime should be nil for a new action")
			}
		})
	}
}

func TestTrackedAction_Complete(t *testing.T) {
	action := NewTrackedAction("42", KindDeployment)
	action.SetState(StateInstalling)

	before := time.Now()
	time.Sleep(5 * time.Millisecond)
	action.Complete()

	rec := action.Snapshot()
	if rec.State != StateClosed {
		t.Errorf("State = %v, want %v", rec.State, StateClosed)
	}
	if rec.EndTime == nil || !rec.EndTime.After(before) {
		t.Error("EndTime should be set after Complete()")
	}
	if rec.Error != "" {
		t.Errorf("Error = %q, want empty", rec.Error)
	}
}

func TestTrackedAction_Fail(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr string
	}{
		{name: "with_error", err: errors.New("download failed"), wantErr: "download failed"},
		{name: "nil_error", err: nil, wantErr: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := NewTrackedAction("42", KindDeployment)
			action.Fail(tt.err)

			rec := action.Snapshot()
			if rec.State != StateFailed {
				t.Errorf("State = %v, want %v", rec.State, StateFailed)
			}
			if rec.Error != tt.wantErr {
				t.Errorf("Error = %q, want %q", rec.Error, tt.wantErr)
			}
			if !action.IsTerminal() {
				t.Error("failed action should be terminal")
			}
		})
	}
}

func TestTrackedAction_StateTransitions(t *testing.T) {
	action := NewTrackedAction("42", KindDeployment)
	for _, state := range []ActionState{StateProceeding, StateDownloading, StateDownloaded, StateInstalling} {
		action.SetState(state)
		if got := action.State(); got != state {
			t.Fatalf("State() = %v, want %v", got, state)
		}
		if action.IsTerminal() {
			t.Fatalf("state %v should not be terminal", state)
		}
	}
	action.Complete()
	if !action.IsTerminal() {
		t.Error("closed action should be terminal")
	}
}

func TestTrackedAction_SnapshotIsCopy(t *testing.T) {
	action := NewTrackedAction("42", KindDeployment)
	action.Complete()

	rec := action.Snapshot()
	*rec.EndTime = time.Time{}

	if action.Snapshot().EndTime.IsZero() {
		t.Error("mutating a snapshot must not change the tracked action")
	}
}

func TestTrackedAction_ConcurrentAccess(t *testing.T) {
	action := NewTrackedAction("concurrent", KindDeployment)

	const numGoroutines = 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			_ = action.State()
			_ = action.Snapshot()
		}()
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				action.Complete()
			} else {
				action.Fail(errors.New("concurrent error"))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent access timed out - possible deadlock")
	}

	if !action.IsTerminal() {
		t.Errorf("final state = %v, want terminal", action.State())
	}
}
