package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

// fakeClock fires timers only when advanced and returns from Sleep immediately.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Duration
	timers   []*fakeTimer
	slept    []time.Duration
	sleepErr func(d time.Duration) error
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	hook := c.sleepErr
	c.mu.Unlock()
	if hook != nil {
		return hook(d)
	}
	return nil
}

// Advance moves time forward and runs every timer that came due, including
// timers armed by callbacks during the advance.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		if next.at > c.now {
			c.now = next.at
		}
		c.mu.Unlock()

		next.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *fakeClock) NextDue() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			return t.at - c.now, true
		}
	}
	return 0, false
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

var errFake = errors.New("fake failure")

// fakeClient records every call the engine makes.
type fakeClient struct {
	mu sync.Mutex

	base          *entity.ControllerBase
	baseErr       error
	deployment    *entity.DeploymentBase
	deploymentErr error
	cancel        *entity.CancelAction
	cancelErr     error
	confirmation  *entity.ConfirmationBase
	configErr     error
	feedbackErr   func(fb entity.ActionFeedback) error
	onPoll        func()

	calls                []string
	deploymentFeedback   []entity.ActionFeedback
	cancelFeedback       []entity.ActionFeedback
	confirmationFeedback []entity.ConfirmationFeedback
	configData           []entity.ConfigData
	polls                int
}

func (c *fakeClient) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *fakeClient) GetControllerBase(context.Context) (*entity.ControllerBase, error) {
	c.mu.Lock()
	c.polls++
	c.record("GetControllerBase")
	hook := c.onPoll
	base, err := c.base, c.baseErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if base == nil {
		return &entity.ControllerBase{}, nil
	}
	return base, nil
}

func (c *fakeClient) GetDeploymentBase(_ context.Context, actionID string, _ int) (*entity.DeploymentBase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetDeploymentBase:" + actionID)
	if c.deploymentErr != nil {
		return nil, c.deploymentErr
	}
	if c.deployment == nil {
		return &entity.DeploymentBase{ID: actionID}, nil
	}
	return c.deployment, nil
}

func (c *fakeClient) PostDeploymentFeedback(_ context.Context, actionID string, fb entity.ActionFeedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PostDeploymentFeedback:" + actionID)
	if c.feedbackErr != nil {
		if err := c.feedbackErr(fb); err != nil {
			return err
		}
	}
	c.deploymentFeedback = append(c.deploymentFeedback, fb)
	return nil
}

func (c *fakeClient) PutConfigData(_ context.Context, data entity.ConfigData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PutConfigData")
	if c.configErr != nil {
		return c.configErr
	}
	c.configData = append(c.configData, data)
	return nil
}

func (c *fakeClient) GetCancelAction(_ context.Context, actionID string) (*entity.CancelAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetCancelAction:" + actionID)
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	if c.cancel == nil {
		return &entity.CancelAction{ID: actionID}, nil
	}
	return c.cancel, nil
}

func (c *fakeClient) PostCancelFeedback(_ context.Context, actionID string, fb entity.ActionFeedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PostCancelFeedback:" + actionID)
	c.cancelFeedback = append(c.cancelFeedback, fb)
	return nil
}

func (c *fakeClient) GetConfirmationBase(context.Context) (*entity.ConfirmationBase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetConfirmationBase")
	if c.confirmation == nil {
		return &entity.ConfirmationBase{}, nil
	}
	return c.confirmation, nil
}

func (c *fakeClient) PostConfirmationFeedback(_ context.Context, actionID string, fb entity.ConfirmationFeedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PostConfirmationFeedback:" + actionID)
	c.confirmationFeedback = append(c.confirmationFeedback, fb)
	return nil
}

func (c *fakeClient) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

func (c *fakeClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeClient) DeploymentFeedback() []entity.ActionFeedback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entity.ActionFeedback(nil), c.deploymentFeedback...)
}

// fakeRecorder collects recorder callbacks.
type fakeRecorder struct {
	mu      sync.Mutex
	polls   []error
	actions []entity.ActionRecord
}

func (r *fakeRecorder) RecordPoll(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, err)
}

func (r *fakeRecorder) RecordAction(_ string, rec entity.ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, rec)
}

// fakePublisher collects events.
type fakePublisher struct {
	mu     sync.Mutex
	events []entity.Event
}

func (p *fakePublisher) Publish(ev entity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

const testRoot = "http://hawkbit/DEFAULT/controller/v1/dev-1"

func links(names ...string) entity.Links {
	l := entity.Links{}
	for _, name := range names {
		switch name {
		case entity.LinkDeploymentBase:
			l[name] = entity.Link{Href: testRoot + "/deploymentBase/42?c=-1"}
		case entity.LinkCancelAction:
			l[name] = entity.Link{Href: testRoot + "/cancelAction/11"}
		case entity.LinkConfirmationBase:
			l[name] = entity.Link{Href: testRoot + "/confirmationBase"}
		case entity.LinkConfigData:
			l[name] = entity.Link{Href: testRoot + "/configData"}
		}
	}
	return l
}

func newTestEngine(client *fakeClient, opts Options, extra ...EngineOption) (*Engine, *fakeClock) {
	clock := &fakeClock{}
	options := append([]EngineOption{WithClock(clock)}, extra...)
	return NewEngine(client, "dev-1", opts, options...), clock
}
