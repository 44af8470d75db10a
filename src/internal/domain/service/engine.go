// Package service implements the simulated device: a polling loop that drives
// deployment, cancellation and confirmation workflows against a DDI server.
package service

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ddi"
)

// Defaults applied to zero-valued Options.
const (
	DefaultPollingInterval = 10 * time.Second
	DefaultDownloadRate    = 100 * time.Millisecond
	DefaultInstallDelay    = 2 * time.Second
)

// errActionInterrupted fails an action whose workflow exited without finishing it.
var errActionInterrupted = errors.New("workflow interrupted")

// Client is the subset of the DDI binding the engine drives.
type Client interface {
	GetControllerBase(ctx context.Context) (*entity.ControllerBase, error)
	GetDeploymentBase(ctx context.Context, actionID string, actionHistory int) (*entity.DeploymentBase, error)
	PostDeploymentFeedback(ctx context.Context, actionID string, feedback entity.ActionFeedback) error
	PutConfigData(ctx context.Context, data entity.ConfigData) error
	GetCancelAction(ctx context.Context, actionID string) (*entity.CancelAction, error)
	PostCancelFeedback(ctx context.Context, actionID string, feedback entity.ActionFeedback) error
	GetConfirmationBase(ctx context.Context) (*entity.ConfirmationBase, error)
	PostConfirmationFeedback(ctx context.Context, actionID string, feedback entity.ConfirmationFeedback) error
}

// Recorder observes poll results and finished actions.
type Recorder interface {
	RecordPoll(controllerID string, interval time.Duration, err error)
	RecordAction(controllerID string, rec entity.ActionRecord)
}

// Publisher receives every poll and feedback event.
type Publisher interface {
	Publish(ev entity.Event)
}

// Installer replaces the simulated installation step. The returned details
// are appended to the closed feedback; an error closes the action as failed.
type Installer interface {
	Install(ctx context.Context, actionID string, chunks []entity.Chunk) ([]string, error)
}

// Options configures one simulated device.
type Options struct {
	// PollingInterval is used until the server advertises its own.
	PollingInterval time.Duration
	// AutoConfirm answers pending confirmations automatically.
	AutoConfirm bool
	// DownloadRate is the simulated download time per MiB.
	DownloadRate time.Duration
	// InstallDelay is the simulated installation time.
	InstallDelay     time.Duration
	DeviceAttributes map[string]string
	// ConfigDataMode tells the server how to apply DeviceAttributes.
	ConfigDataMode entity.ConfigDataMode
	// ActionHistory is forwarded when fetching a deployment; 0 omits it.
	ActionHistory int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		PollingInterval: DefaultPollingInterval,
		AutoConfirm:     true,
		DownloadRate:    DefaultDownloadRate,
		InstallDelay:    DefaultInstallDelay,
		ConfigDataMode:  entity.ConfigDataMerge,
	}
}

func (o Options) withDefaults() Options {
	if o.PollingInterval <= 0 {
		o.PollingInterval = DefaultPollingInterval
	}
	if o.DownloadRate <= 0 {
		o.DownloadRate = DefaultDownloadRate
	}
	if o.InstallDelay < 0 {
		o.InstallDelay = 0
	}
	if o.ConfigDataMode == "" {
		o.ConfigDataMode = entity.ConfigDataMerge
	}
	return o
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock replaces the wall clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the log entry used by the engine.
func WithLogger(l *logrus.Entry) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithPublisher attaches a Publisher.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithInstaller runs i after the simulated install delay.
func WithInstaller(i Installer) EngineOption {
	return func(e *Engine) { e.installer = i }
}

// linkHandler runs the workflow for one advertised link.
type linkHandler struct {
	link string
	run  func(ctx context.Context, href string) error
}

// Engine simulates one device. Poll cycles never overlap: the next cycle is
// armed as a single-shot timer once the current one has fully completed.
type Engine struct {
	client       Client
	controllerID string
	opts         Options
	clock        Clock
	log          *logrus.Entry
	recorder     Recorder
	publisher    Publisher
	installer    Installer
	handlers     []linkHandler

	mu         sync.Mutex
	running    bool
	generation uint64
	timer      Timer
	interval   time.Duration
	inflight   sync.WaitGroup
}

// NewEngine creates a stopped engine for controllerID.
func NewEngine(client Client, controllerID string, opts Options, options ...EngineOption) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		client:       client,
		controllerID: controllerID,
		opts:         opts,
		clock:        RealClock{},
		interval:     opts.PollingInterval,
	}
	for _, o := range options {
		o(e)
	}
	if e.log == nil {
		e.log = logrus.WithField("controller_id", controllerID)
	}
	e.handlers = []linkHandler{
		{link: entity.LinkConfigData, run: e.runConfigData},
		{link: entity.LinkDeploymentBase, run: e.runDeployment},
		{link: entity.LinkCancelAction, run: e.runCancel},
		{link: entity.LinkConfirmationBase, run: e.runConfirmation},
	}
	return e
}

// ControllerID returns the simulated device id.
func (e *Engine) ControllerID() string {
	return e.controllerID
}

// Interval returns the current polling interval.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Running reports whether the polling loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start schedules the first poll immediately. Calling it while running is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.log.Warn("Simulation already running")
		return
	}
	e.running = true
	e.generation++
	e.log.WithField("interval", e.interval.String()).Info("Starting simulation")
	e.arm(e.generation, 0)
}

// Stop cancels the pending poll. A cycle already in progress runs to completion.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	if e.timer != nil && e.timer.Stop() {
		e.inflight.Done()
	}
	e.timer = nil
	e.log.Info("Simulation stopped")
}

// Wait blocks until no poll cycle is pending or in progress.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Run starts the engine, blocks until ctx is done, then stops it.
// In-flight work is not interrupted; use Wait to drain it.
func (e *Engine) Run(ctx context.Context) {
	e.Start()
	<-ctx.Done()
	e.Stop()
}

// arm must be called with e.mu held.
func (e *Engine) arm(generation uint64, d time.Duration) {
	e.inflight.Add(1)
	e.timer = e.clock.AfterFunc(d, func() { e.cycle(generation) })
}

func (e *Engine) cycle(generation uint64) {
	defer e.inflight.Done()

	e.poll(context.Background())

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || generation != e.generation {
		return
	}
	e.arm(generation, e.interval)
}

// poll runs one cycle. Every error is contained here.
func (e *Engine) poll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Poll cycle panic recovered")
		}
	}()

	base, err := e.client.GetControllerBase(ctx)
	if err != nil {
		e.log.WithError(err).Error("Poll failed")
		e.recordPoll(err)
		return
	}

	e.adoptInterval(base.Config.Polling.Sleep)

	for _, h := range e.handlers {
		href, ok := base.Links.Href(h.link)
		if !ok {
			continue
		}
		e.runContained(ctx, h, href)
	}

	_, hasDeployment := base.Links.Href(entity.LinkDeploymentBase)
	_, hasCancel := base.Links.Href(entity.LinkCancelAction)
	if !hasDeployment && !hasCancel {
		e.log.Debug("Idle poll, no pending actions")
	}
	e.recordPoll(nil)
}

func (e *Engine) runContained(ctx context.Context, h linkHandler, href string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"link":  h.link,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Workflow panic recovered")
		}
	}()

	if err := h.run(ctx, href); err != nil {
		e.log.WithFields(logrus.Fields{"link": h.link, "error": err}).Error("Workflow failed")
	}
}

func (e *Engine) adoptInterval(sleep string) {
	if sleep == "" {
		return
	}
	next := time.Duration(ddi.ParsePollingInterval(sleep)) * time.Second

	e.mu.Lock()
	defer e.mu.Unlock()
	if next == e.interval {
		return
	}
	e.log.WithFields(logrus.Fields{
		"from": e.interval.String(),
		"to":   next.String(),
	}).Info("Polling interval changed")
	e.interval = next
}

func (e *Engine) recordPoll(err error) {
	interval := e.Interval()
	if e.recorder != nil {
		e.recorder.RecordPoll(e.controllerID, interval, err)
	}
	ev := entity.Event{
		Kind:     entity.EventPoll,
		Interval: int(interval / time.Second),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.publish(ev)
}

func (e *Engine) recordAction(action *entity.TrackedAction) {
	if !action.IsTerminal() {
		e.log.WithFields(logrus.Fields{
			"action_id": action.Snapshot().ID,
			"state":     action.State(),
		}).Warn("Action interrupted before completion")
		action.Fail(errActionInterrupted)
	}
	if e.recorder != nil {
		e.recorder.RecordAction(e.controllerID, action.Snapshot())
	}
}

func (e *Engine) publish(ev entity.Event) {
	if e.publisher == nil {
		return
	}
	ev.ControllerID = e.controllerID
	ev.Time = time.Now()
	e.publisher.Publish(ev)
}
