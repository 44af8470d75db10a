package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/console"
	"github.com/kodflow/ddi-simulator/src/internal/infrastructure/ddi"
)

const deviceFlagUsage = "Controller id (defaults to the first device of the fleet)"

func addDeviceFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "device", "d", "", deviceFlagUsage)
}

func newPollCommand(ctx *commandContext) *cobra.Command {
	var device string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the server once and print the advertised links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				base, err := client.GetControllerBase(c)
				if err != nil {
					return err
				}
				console.Printf("Controller: %s\n", client.ControllerID())
				console.Printf("Sleep:      %s (%ds)\n", base.Config.Polling.Sleep, ddi.ParsePollingInterval(base.Config.Polling.Sleep))

				rows := make([][]string, 0, len(base.Links))
				for _, name := range []string{"deploymentBase", "cancelAction", "configData", "confirmationBase", "installedBase"} {
					if href, ok := base.Links.Href(name); ok {
						rows = append(rows, []string{name, href})
					}
				}
				if len(rows) == 0 {
					console.Println("No pending work")
					return nil
				}
				console.Table([]string{"LINK", "HREF"}, rows)
				return nil
			})
		},
	}
	addDeviceFlag(cmd, &device)
	return cmd
}

func newAutoConfirmCommand(ctx *commandContext) *cobra.Command {
	var device string

	autoCmd := &cobra.Command{
		Use:   "autoconfirm",
		Short: "Manage server-side auto-confirmation of a device",
	}
	autoCmd.PersistentFlags().StringVarP(&device, "device", "d", "", deviceFlagUsage)

	var initiator, remark string
	onCmd := &cobra.Command{
		Use:   "on",
		Short: "Activate auto-confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				var req *entity.AutoConfirmRequest
				if initiator != "" || remark != "" {
					req = &entity.AutoConfirmRequest{Initiator: initiator, Remark: remark}
				}
				if err := client.ActivateAutoConfirmation(c, req); err != nil {
					return err
				}
				console.Printf("Auto-confirmation activated for %s\n", client.ControllerID())
				return nil
			})
		},
	}
	onCmd.Flags().StringVar(&initiator, "initiator", "", "Initiator recorded by the server")
	onCmd.Flags().StringVar(&remark, "remark", "", "Remark recorded by the server")

	offCmd := &cobra.Command{
		Use:   "off",
		Short: "Deactivate auto-confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				if err := client.DeactivateAutoConfirmation(c); err != nil {
					return err
				}
				console.Printf("Auto-confirmation deactivated for %s\n", client.ControllerID())
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show auto-confirmation state and pending confirmations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				base, err := client.GetConfirmationBase(c)
				if err != nil {
					return err
				}
				console.Printf("Active:    %s\n", yesNo(base.AutoConfirm.Active))
				if base.AutoConfirm.Initiator != "" {
					console.Printf("Initiator: %s\n", base.AutoConfirm.Initiator)
				}
				if base.AutoConfirm.Remark != "" {
					console.Printf("Remark:    %s\n", base.AutoConfirm.Remark)
				}
				if href, ok := base.Links.Href("confirmationBase"); ok {
					if id, ok := ddi.ConfirmationActionID(href); ok {
						console.Printf("Pending:   action %s\n", id)
					}
				}
				return nil
			})
		},
	}

	autoCmd.AddCommand(onCmd, offCmd, statusCmd)
	return autoCmd
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	var device string
	var deny bool
	var code int
	var details []string

	cmd := &cobra.Command{
		Use:   "confirm <actionId>",
		Short: "Confirm or deny an action waiting for confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			actionID := strings.TrimSpace(args[0])
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				feedback := entity.ConfirmationFeedback{
					Confirmation: entity.Confirmed,
					Code:         code,
					Details:      details,
				}
				if deny {
					feedback.Confirmation = entity.Denied
				}
				if err := client.PostConfirmationFeedback(c, actionID, feedback); err != nil {
					return err
				}
				console.Printf("Action %s %s\n", actionID, feedback.Confirmation)
				return nil
			})
		},
	}
	addDeviceFlag(cmd, &device)
	cmd.Flags().BoolVar(&deny, "deny", false, "Deny instead of confirming")
	cmd.Flags().IntVar(&code, "code", 0, "Device specific result code")
	cmd.Flags().StringArrayVar(&details, "detail", nil, "Detail message (repeatable)")
	return cmd
}

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	var device string
	var downloadDir string

	cmd := &cobra.Command{
		Use:   "artifacts <moduleId>",
		Short: "List the artifacts of a software module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			moduleID := strings.TrimSpace(args[0])
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				artifacts, err := client.GetArtifacts(c, moduleID)
				if err != nil {
					return err
				}
				if len(artifacts) == 0 {
					console.Printf("Software module %s has no artifacts\n", moduleID)
					return nil
				}

				rows := make([][]string, 0, len(artifacts))
				for _, a := range artifacts {
					rows = append(rows, []string{a.Filename, ddi.FormatSize(a.Size), shortHash(a.Hashes.SHA256)})
				}
				console.Table([]string{"FILE", "SIZE", "SHA256"}, rows, console.AlignLeft, console.AlignRight, console.AlignLeft)

				if downloadDir == "" {
					return nil
				}
				for _, a := range artifacts {
					n, err := downloadArtifact(c, client, moduleID, a.Filename, downloadDir)
					if err != nil {
						return err
					}
					console.Printf("Downloaded %s (%s)\n", a.Filename, ddi.FormatSize(n))
				}
				return nil
			})
		},
	}
	addDeviceFlag(cmd, &device)
	cmd.Flags().StringVar(&downloadDir, "download", "", "Download every artifact into this directory")
	return cmd
}

// downloadArtifact streams one artifact into dir and returns the bytes written.
func downloadArtifact(ctx context.Context, client *ddi.Client, moduleID, filename, dir string) (int64, error) {
	name := filepath.Base(filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return 0, fmt.Errorf("refusing artifact name %q", filename)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create download directory %q: %w", dir, err)
	}

	body, err := client.DownloadArtifact(ctx, moduleID, filename)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	target := filepath.Join(dir, name)
	file, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", target, err)
	}
	return n, nil
}

func newInstalledCommand(ctx *commandContext) *cobra.Command {
	var device string
	var history int

	cmd := &cobra.Command{
		Use:   "installed <actionId>",
		Short: "Show the installed base of a finished action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer bindOutput(cmd)()
			actionID := strings.TrimSpace(args[0])
			return ctx.withDevice(cmd, device, func(c context.Context, client *ddi.Client) error {
				base, err := client.GetInstalledBase(c, actionID, history)
				if err != nil {
					return err
				}
				console.Printf("Action: %s\n", base.ID)

				rows := make([][]string, 0, len(base.Deployment.Chunks))
				for _, chunk := range base.Deployment.Chunks {
					rows = append(rows, []string{chunk.Part, chunk.Name, chunk.Version, strconv.Itoa(len(chunk.Artifacts))})
				}
				console.Table([]string{"PART", "NAME", "VERSION", "ARTIFACTS"}, rows,
					console.AlignLeft, console.AlignLeft, console.AlignLeft, console.AlignRight)

				if base.ActionHistory != nil {
					if base.ActionHistory.Status != "" {
						console.Printf("Status: %s\n", base.ActionHistory.Status)
					}
					for _, msg := range base.ActionHistory.Messages {
						console.Printf("  %s\n", msg)
					}
				}
				return nil
			})
		},
	}
	addDeviceFlag(cmd, &device)
	cmd.Flags().IntVar(&history, "history", 0, "Number of action history messages to request")
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
