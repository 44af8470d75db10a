package service

import (
	"context"
	"time"
)

// Timer is a pending single-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already started or the timer was already stopped.
	Stop() bool
}

// Clock schedules callbacks and simulated waits.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

// AfterFunc runs f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sleep waits for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
