package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodflow/ddi-simulator/src/internal/application/fleet"
	"github.com/kodflow/ddi-simulator/src/internal/application/handler"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/config"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/console"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/events"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/store"
	"github.com/kodflow/ddi-simulator/src/internal/version"
)

const statusShutdownTimeout = 5 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration
	var statusAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulated fleet until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("status-addr") {
				cfg.Status.Addr = statusAddr
			}
			defer bindOutput(cmd)()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, duration)
				defer cancel()
			}
			return runFleet(runCtx, cfg)
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve /health and /devices on this address")
	return cmd
}

// runFleet wires the optional event stream and status endpoint around a fleet
// runner and blocks until ctx is done.
func runFleet(ctx context.Context, cfg *config.Config) error {
	log := logger.Component("cli")
	log.WithField("version", version.GetShortVersion()).Info("Starting ddi-simulator")

	var opts []fleet.Option
	if cfg.Events.Enabled() {
		publisher, err := connectEvents(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if dropped := publisher.Dropped(); dropped > 0 {
				log.WithField("dropped", dropped).Warn("Events dropped while the broker was slow")
			}
			_ = publisher.Close()
		}()
		opts = append(opts, fleet.WithPublisher(publisher))
	}

	runner, err := fleet.NewRunner(cfg, opts...)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := runner.Prepare(ctx); err != nil {
		return err
	}
	printDevices(runner.Devices())

	if cfg.Status.Addr != "" {
		shutdown, err := serveStatus(cfg.Status.Addr, runner.Store(), runner)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	runErr := runner.Run(ctx)
	printSummary(runner.Store().Snapshot())
	return runErr
}

func connectEvents(cfg *config.Config) (*events.Publisher, error) {
	tlsConfig, err := cfg.TLS.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(cfg.Events.Broker, "ssl://") && !strings.HasPrefix(cfg.Events.Broker, "tls://") {
		tlsConfig = nil
	}
	return events.Connect(events.Config{
		Broker:      cfg.Events.Broker,
		ClientID:    cfg.Events.ClientID,
		Username:    cfg.Events.Username,
		Password:    cfg.Events.Password,
		TopicPrefix: cfg.Events.TopicPrefix,
		QoS:         cfg.Events.QoS,
		TLS:         tlsConfig,
		Logger:      logger.Component("events"),
	})
}

// serveStatus starts the status endpoint and returns a function stopping it.
func serveStatus(addr string, source handler.StatusSource, stats handler.StatsSource) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status endpoint: %w", err)
	}

	mux := http.NewServeMux()
	handler.NewStatusHandler(source).WithStats(stats).Routes(mux)
	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB
	}

	log := logger.Component("status")
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err).Error("Status endpoint stopped")
		}
	}()
	log.WithField("addr", listener.Addr().String()).Info("Status endpoint listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithField("error", err).Warn("Status endpoint shutdown")
		}
	}, nil
}

func printDevices(devices []*fleet.Device) {
	rows := make([][]string, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, []string{dev.ControllerID, string(dev.Scheme), strconv.Itoa(int(dev.Engine.Interval().Seconds()))})
	}
	console.Table([]string{"CONTROLLER", "AUTH", "INTERVAL (S)"}, rows, console.AlignLeft, console.AlignLeft, console.AlignRight)
}

func printSummary(statuses []store.DeviceStatus) {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{
			st.ControllerID,
			strconv.Itoa(st.Polls),
			strconv.Itoa(st.FailedPolls),
			strconv.Itoa(len(st.Actions)),
			st.LastError,
		})
	}
	console.Table(
		[]string{"CONTROLLER", "POLLS", "FAILED", "ACTIONS", "LAST ERROR"},
		rows,
		console.AlignLeft, console.AlignRight, console.AlignRight, console.AlignRight, console.AlignLeft,
	)
}
