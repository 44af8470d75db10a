package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kodflow/ddi-simulator/src/internal/application/fleet"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/config"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/console"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ddi"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/security"
)

const bytesPerMB = 1024 * 1024

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath      string
	server          string
	tenant          string
	devices         int
	prefix          string
	username        string
	password        string
	gatewayToken    string
	targetToken     string
	pollingInterval int
	autoConfirm     bool
	logLevel        string
	logFormat       string
}

// apply copies every flag set on the command line over cfg.
func (f *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	overrides := []struct {
		name  string
		apply func()
	}{
		{"server", func() { cfg.Server.URL = f.server }},
		{"tenant", func() { cfg.Server.Tenant = f.tenant }},
		{"devices", func() { cfg.Fleet.Devices = f.devices }},
		{"prefix", func() { cfg.Fleet.Prefix = f.prefix }},
		{"username", func() { cfg.Auth.Username = f.username }},
		{"password", func() { cfg.Auth.Password = f.password }},
		{"gateway-token", func() { cfg.Auth.GatewayToken = f.gatewayToken }},
		{"target-token", func() { cfg.Auth.TargetToken = f.targetToken }},
		{"polling-interval", func() { cfg.Simulation.PollingIntervalSeconds = f.pollingInterval }},
		{"auto-confirm", func() { cfg.Simulation.AutoConfirm = f.autoConfirm }},
		{"log-level", func() { cfg.Logging.Level = f.logLevel }},
		{"log-format", func() { cfg.Logging.Format = f.logFormat }},
	}
	for _, o := range overrides {
		if set(o.name) {
			o.apply()
		}
	}
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig loads the configuration once, applies the command line on top,
// validates the result and initializes the logger on the command's stderr.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		c.flags.apply(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}

		if err := logger.Initialize(logger.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			Output:     cmd.ErrOrStderr(),
			FilePath:   cfg.Logging.File,
			MaxSize:    int64(cfg.Logging.MaxSizeMB) * bytesPerMB,
			MaxBackups: cfg.Logging.MaxBackups,
		}); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Failed to open log file: %v\n", err)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withDevice runs fn with a DDI client for one controller. An empty id selects
// the first device of the configured fleet, which needs a fixed prefix.
func (c *commandContext) withDevice(cmd *cobra.Command, controllerID string, fn func(context.Context, *ddi.Client) error) error {
	cfg, err := c.ensureConfig(cmd)
	if err != nil {
		return err
	}

	if strings.TrimSpace(controllerID) == "" {
		if strings.TrimSpace(cfg.Fleet.Prefix) == "" {
			return errors.New("--device is required when the device prefix is empty")
		}
		controllerID = security.ControllerID(cfg.Fleet.Prefix, 0)
	}

	runner, err := fleet.NewRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx := cmd.Context()
	client, err := runner.DeviceClient(ctx, controllerID)
	if err != nil {
		return err
	}
	return fn(ctx, client)
}

// bindOutput routes console output to the command's stdout until the returned
// function is called.
func bindOutput(cmd *cobra.Command) func() {
	return console.SetOutput(cmd.OutOrStdout())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
