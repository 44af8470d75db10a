package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/config"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/console"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigSampleCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigSampleCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "sample",
		Short:       "Print or write an annotated configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			target := strings.TrimSpace(targetPath)
			if target == "" {
				fmt.Fprint(out, config.Sample())
				return nil
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.WriteFile(target, []byte(config.Sample()), 0o600); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			defer bindOutput(cmd)()

			console.Println("Configuration valid")
			console.Table([]string{"SETTING", "VALUE"}, [][]string{
				{"server", cfg.Server.URL},
				{"tenant", cfg.Server.Tenant},
				{"devices", strconv.Itoa(cfg.Fleet.Devices)},
				{"prefix", cfg.Fleet.Prefix},
				{"auth", authSummary(cfg)},
				{"bootstrap", yesNo(cfg.Management.Enabled())},
				{"polling interval", strconv.Itoa(cfg.Simulation.PollingIntervalSeconds) + "s"},
				{"auto confirm", yesNo(cfg.Simulation.AutoConfirm)},
				{"status endpoint", valueOrNone(cfg.Status.Addr)},
				{"action database", valueOrNone(cfg.Store.Path)},
				{"event broker", valueOrNone(cfg.Events.Broker)},
			})
			return nil
		},
	}
}

// authSummary names the scheme devices will use without printing secrets.
func authSummary(cfg *config.Config) string {
	switch {
	case cfg.Auth.Username != "":
		return "basic"
	case cfg.Auth.GatewayToken != "":
		return "gateway token"
	case cfg.Auth.TargetToken != "":
		return "target token"
	case cfg.Management.Enabled():
		return "target token (bootstrap)"
	default:
		return "none"
	}
}

func valueOrNone(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
