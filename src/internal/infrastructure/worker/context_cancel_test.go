package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestWorkerPool_ParentCancelStopsTasks checks that long-running tasks observe
// cancellation of the pool's parent context.
func TestWorkerPool_ParentCancelStopsTasks(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	pool := NewPool(parent, Config{Workers: 2, MaxBacklog: 2})

	var stopped int32
	for i := 0; i < 2; i++ {
		if err := pool.Submit(func(ctx context.Context) {
			<-ctx.Done()
			atomic.AddInt32(&stopped, 1)
		}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	waitFor(t, func() bool { return pool.Active() == 2 })
	cancel()

	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if atomic.LoadInt32(&stopped) != 2 {
		t.Errorf("stopped tasks = %d, want 2", stopped)
	}
	if pool.Completed() != 2 {
		t.Errorf("completed = %d, want 2", pool.Completed())
	}
}

// TestWorkerPool_ShutdownTimeoutCancelsTasks checks that Shutdown cancels
// tasks still running when the timeout expires.
func TestWorkerPool_ShutdownTimeoutCancelsTasks(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 1, MaxBacklog: 1})

	cancelled := make(chan struct{})
	if err := pool.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitFor(t, func() bool { return pool.Active() == 1 })

	err := pool.Shutdown(20 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Shutdown error = %v, want ErrShutdownTimeout", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled after shutdown timeout")
	}
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		wantDeadline bool
	}{
		{"no timeout", 0, false},
		{"with timeout", time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(context.Background(), Config{Workers: 1, MaxBacklog: 1, TaskTimeout: tt.timeout})
			defer func() { _ = pool.Shutdown(time.Second) }()

			got := make(chan bool, 1)
			if err := pool.Submit(func(ctx context.Context) {
				_, ok := ctx.Deadline()
				got <- ok
			}); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}

			select {
			case hasDeadline := <-got:
				if hasDeadline != tt.wantDeadline {
					t.Errorf("deadline set = %v, want %v", hasDeadline, tt.wantDeadline)
				}
			case <-time.After(time.Second):
				t.Fatal("task did not run")
			}
		})
	}
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 1, MaxBacklog: 2})
	defer func() { _ = pool.Shutdown(time.Second) }()

	if err := pool.Submit(func(context.Context) { panic("engine exploded") }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := make(chan struct{})
	if err := pool.Submit(func(context.Context) { close(ran) }); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestWorkerPool_Accessors(t *testing.T) {
	pool := NewPool(context.Background(), Config{})
	defer func() { _ = pool.Shutdown(time.Second) }()

	if pool.Workers() != 10 || pool.Capacity() != 100 {
		t.Errorf("workers = %d capacity = %d, want defaults 10 and 100", pool.Workers(), pool.Capacity())
	}
	if pool.Size() != 0 {
		t.Errorf("size = %d, want 0", pool.Size())
	}
}

func TestWorkerPool_ShutdownTwice(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 1})
	if err := pool.Shutdown(time.Second); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := pool.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
	if err := pool.SubmitWait(func(context.Context) {}, time.Millisecond); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("SubmitWait after shutdown = %v, want ErrPoolShutdown", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
