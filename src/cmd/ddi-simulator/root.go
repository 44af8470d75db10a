package main

import (
	"github.com/spf13/cobra"

	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/logger"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "ddi-simulator",
		Short:         "Simulate hawkBit DDI devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")
	pf.StringVarP(&flags.server, "server", "s", "", "DDI server base URL")
	pf.StringVarP(&flags.tenant, "tenant", "t", "", "Tenant name")
	pf.IntVarP(&flags.devices, "devices", "n", 0, "Number of simulated devices")
	pf.StringVar(&flags.prefix, "prefix", "", "Controller id prefix (empty generates ids)")
	pf.StringVar(&flags.username, "username", "", "Basic auth username")
	pf.StringVar(&flags.password, "password", "", "Basic auth password")
	pf.StringVar(&flags.gatewayToken, "gateway-token", "", "Gateway security token")
	pf.StringVar(&flags.targetToken, "target-token", "", "Target security token")
	pf.IntVar(&flags.pollingInterval, "polling-interval", 0, "Default polling interval in seconds")
	pf.BoolVar(&flags.autoConfirm, "auto-confirm", true, "Confirm actions waiting for confirmation")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format (json, text)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newPollCommand(ctx))
	rootCmd.AddCommand(newAutoConfirmCommand(ctx))
	rootCmd.AddCommand(newConfirmCommand(ctx))
	rootCmd.AddCommand(newArtifactsCommand(ctx))
	rootCmd.AddCommand(newInstalledCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
