// Package fleet runs a population of simulated devices against one server.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/domain/service"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/config"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ddi"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/management"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ratelimit"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/store"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/system"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/worker"
)

// DefaultShutdownTimeout bounds how long Run waits for engines after ctx is done.
const DefaultShutdownTimeout = 30 * time.Second

// startTimeout bounds how long Run waits for a free worker per engine.
const startTimeout = 5 * time.Second

const targetDescription = "Simulated device"

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("fleet is already running")

// Bootstrapper provisions a device record and returns its security token.
type Bootstrapper interface {
	GetOrCreateTarget(ctx context.Context, controllerID, name, description string) (*entity.Target, error)
}

// Device is one simulated controller.
type Device struct {
	ControllerID string
	Scheme       security.Scheme
	Engine       *service.Engine
}

// Stats describes the worker pool running the engines and the outbound
// rate limiter.
type Stats struct {
	Devices       int                    `json:"devices"`
	Running       bool                   `json:"running"`
	Workers       int                    `json:"workers"`
	ActiveEngines int                    `json:"active_engines"`
	Queued        int                    `json:"queued"`
	Capacity      int                    `json:"capacity"`
	Stopped       int64                  `json:"stopped_engines"`
	RateLimit     map[string]interface{} `json:"rate_limit,omitempty"`
}

// Runner owns every device of a fleet.
type Runner struct {
	cfg             *config.Config
	httpClient      *http.Client
	limiter         *ratelimit.RateLimiter
	bootstrap       Bootstrapper
	store           *store.ActionStore
	sqlite          *store.SQLiteStore
	publisher       service.Publisher
	clock           service.Clock
	shutdownTimeout time.Duration
	log             *logrus.Entry

	mu      sync.Mutex
	devices []*Device
	running bool
	pool    *worker.Pool
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHTTPClient replaces the client built from the TLS settings.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

// WithBootstrapper replaces the management client built from the configuration.
func WithBootstrapper(b Bootstrapper) Option {
	return func(r *Runner) { r.bootstrap = b }
}

// WithPublisher forwards every engine event to p.
func WithPublisher(p service.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithClock replaces the wall clock of every engine.
func WithClock(c service.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithShutdownTimeout bounds the drain after cancellation.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) { r.shutdownTimeout = d }
}

// NewRunner wires the shared infrastructure of a fleet. cfg must be valid.
func NewRunner(cfg *config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:             cfg,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             logger.Component("fleet"),
	}
	for _, o := range opts {
		o(r)
	}

	if r.httpClient == nil {
		client, err := cfg.TLS.HTTPClient(cfg.Timeout())
		if err != nil {
			return nil, fmt.Errorf("build http client: %w", err)
		}
		r.httpClient = client
	}

	limits := ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TTL:               ratelimit.DefaultConfig().TTL,
	}
	if limits.Enabled() {
		r.limiter = ratelimit.NewRateLimiter(limits)
		r.httpClient = ratelimit.WrapClient(r.httpClient, r.limiter)
	}

	if r.bootstrap == nil && cfg.Management.Enabled() {
		mgmt, err := management.NewClient(management.Config{
			BaseURL:    cfg.ManagementURL(),
			Username:   cfg.Management.Username,
			Password:   cfg.Management.Password,
			Timeout:    cfg.Timeout(),
			HTTPClient: r.httpClient,
			Logger:     logger.Component("management"),
		})
		if err != nil {
			_ = r.release()
			return nil, err
		}
		r.bootstrap = mgmt
	}

	storeOpts := []store.Option{
		store.WithMaxHistory(cfg.Store.MaxHistory),
		store.WithLogger(logger.Component("store")),
	}
	if cfg.Store.Path != "" {
		db, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			_ = r.release()
			return nil, err
		}
		r.sqlite = db
		storeOpts = append(storeOpts, store.WithPersister(db))
	}
	r.store = store.NewActionStore(storeOpts...)

	return r, nil
}

// Store returns the fleet's action store.
func (r *Runner) Store() *store.ActionStore {
	return r.store
}

// Devices returns the prepared devices.
func (r *Runner) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Device(nil), r.devices...)
}

// needsBootstrap reports whether devices must fetch their own target token.
func (r *Runner) needsBootstrap() bool {
	return r.bootstrap != nil && r.cfg.Auth.Username == "" && r.cfg.Auth.GatewayToken == ""
}

// Prepare provisions every device and builds its engine. It is idempotent.
func (r *Runner) Prepare(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.devices != nil {
		return nil
	}

	devices := make([]*Device, 0, r.cfg.Fleet.Devices)
	ids := make([]string, 0, r.cfg.Fleet.Devices)
	for i := 0; i < r.cfg.Fleet.Devices; i++ {
		dev, err := r.newDevice(ctx, security.ControllerID(r.cfg.Fleet.Prefix, i))
		if err != nil {
			return err
		}
		devices = append(devices, dev)
		ids = append(ids, dev.ControllerID)
	}

	if r.sqlite != nil {
		if err := r.store.Restore(ctx, r.sqlite, ids...); err != nil {
			r.log.WithError(err).Warn("Failed to restore action history")
		}
	}

	r.devices = devices
	r.log.WithField("devices", len(devices)).Info("Fleet prepared")
	return nil
}

func (r *Runner) newDevice(ctx context.Context, controllerID string) (*Device, error) {
	log := logger.Device(controllerID)

	client, scheme, err := r.deviceClient(ctx, controllerID, log)
	if err != nil {
		return nil, err
	}

	sim := r.cfg.Simulation
	opts := service.Options{
		PollingInterval:  time.Duration(sim.PollingIntervalSeconds) * time.Second,
		AutoConfirm:      sim.AutoConfirm,
		DownloadRate:     time.Duration(sim.DownloadRateMs) * time.Millisecond,
		InstallDelay:     time.Duration(sim.InstallDelayMs) * time.Millisecond,
		DeviceAttributes: sim.Attributes,
		ActionHistory:    sim.ActionHistory,
		ConfigDataMode:   entity.ConfigDataMode(sim.ConfigDataMode),
	}
	engineOpts := []service.EngineOption{
		service.WithLogger(log),
		service.WithRecorder(r.store),
	}
	if r.publisher != nil {
		engineOpts = append(engineOpts, service.WithPublisher(r.publisher))
	}
	if r.clock != nil {
		engineOpts = append(engineOpts, service.WithClock(r.clock))
	}
	if sim.InstallCommand != "" {
		hook, err := system.NewInstallHook(system.HookConfig{
			Command:      sim.InstallCommand,
			Timeout:      r.cfg.InstallTimeout(),
			ControllerID: controllerID,
			Logger:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", controllerID, err)
		}
		engineOpts = append(engineOpts, service.WithInstaller(hook))
	}
	engine := service.NewEngine(client, controllerID, opts, engineOpts...)
	r.store.Register(controllerID, engine.Interval())

	log.WithField("auth", scheme).Debug("Device prepared")
	return &Device{ControllerID: controllerID, Scheme: scheme, Engine: engine}, nil
}

// DeviceClient returns a DDI client for one controller, bootstrapping its
// target token when needed.
func (r *Runner) DeviceClient(ctx context.Context, controllerID string) (*ddi.Client, error) {
	client, _, err := r.deviceClient(ctx, controllerID, logger.Device(controllerID))
	return client, err
}

func (r *Runner) deviceClient(ctx context.Context, controllerID string, log *logrus.Entry) (*ddi.Client, security.Scheme, error) {
	creds := security.Credentials{
		Username:     r.cfg.Auth.Username,
		Password:     r.cfg.Auth.Password,
		GatewayToken: r.cfg.Auth.GatewayToken,
		TargetToken:  r.cfg.Auth.TargetToken,
	}
	if r.needsBootstrap() {
		target, err := r.bootstrap.GetOrCreateTarget(ctx, controllerID, controllerID, targetDescription)
		if err != nil {
			return nil, "", fmt.Errorf("bootstrap %s: %w", controllerID, err)
		}
		creds.TargetToken = target.SecurityToken
		entry := log
		if created := target.CreatedTime(); !created.IsZero() {
			entry = log.WithField("target_created", created.Format(time.RFC3339))
		}
		entry.Debug("Target token obtained")
	}

	auth, err := security.NewAuthenticator(creds)
	if err != nil {
		return nil, "", fmt.Errorf("device %s: %w", controllerID, err)
	}

	client, err := ddi.NewClient(ddi.Config{
		BaseURL:      r.cfg.Server.URL,
		Tenant:       r.cfg.Server.Tenant,
		ControllerID: controllerID,
		Credentials:  creds,
		Timeout:      r.cfg.Timeout(),
		HTTPClient:   r.httpClient,
		Logger:       log,
	})
	if err != nil {
		return nil, "", err
	}
	return client, auth.Scheme(), nil
}

// Run prepares the fleet if needed, runs every engine on the worker pool and
// blocks until ctx is done. It then stops the engines and waits for cycles
// already in progress.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Prepare(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	devices := r.devices
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.pool = nil
		r.mu.Unlock()
	}()

	pool := worker.NewPool(ctx, worker.Config{Workers: len(devices), MaxBacklog: len(devices)})
	r.mu.Lock()
	r.pool = pool
	r.mu.Unlock()
	for _, dev := range devices {
		engine := dev.Engine
		if err := pool.SubmitWait(engine.Run, startTimeout); err != nil {
			pool.Stop()
			_ = pool.Shutdown(r.shutdownTimeout) //nolint:errcheck // Submit error takes precedence
			return fmt.Errorf("start %s: %w", dev.ControllerID, err)
		}
	}
	if retention := r.cfg.Retention(); retention > 0 {
		go r.pruneHistory(ctx, retention)
	}
	r.log.WithFields(logrus.Fields{
		"devices": len(devices),
		"server":  r.cfg.Server.URL,
		"tenant":  r.cfg.Server.Tenant,
	}).Info("Fleet started")

	<-ctx.Done()
	r.log.Info("Stopping fleet")

	err := pool.Shutdown(r.shutdownTimeout)
	for _, dev := range devices {
		dev.Engine.Stop()
	}
	if !waitAll(devices, r.shutdownTimeout) {
		r.log.Warn("Timed out waiting for in-flight poll cycles")
		err = errors.Join(err, worker.ErrShutdownTimeout)
	}
	r.log.Info("Fleet stopped")
	return err
}

// Stats returns a snapshot of the fleet's runtime counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Devices: len(r.devices), Running: r.running}
	if r.pool != nil {
		stats.Workers = r.pool.Workers()
		stats.ActiveEngines = r.pool.Active()
		stats.Queued = r.pool.Size()
		stats.Capacity = r.pool.Capacity()
		stats.Stopped = r.pool.Completed()
	}
	if r.limiter != nil {
		stats.RateLimit = r.limiter.Stats()
	}
	return stats
}

// pruneHistory drops expired actions until ctx is done.
func (r *Runner) pruneHistory(ctx context.Context, retention time.Duration) {
	every := retention / 4
	if every > time.Hour {
		every = time.Hour
	}
	if every < time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.store.CleanupOldActions(retention)
		}
	}
}

// waitAll waits for every engine to go idle, up to timeout.
func waitAll(devices []*Device, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		for _, dev := range devices {
			dev.Engine.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases the rate limiter and the action database.
func (r *Runner) Close() error {
	return r.release()
}

func (r *Runner) release() error {
	if r.limiter != nil {
		r.limiter.Stop()
	}
	if r.sqlite != nil {
		return r.sqlite.Close()
	}
	return nil
}
