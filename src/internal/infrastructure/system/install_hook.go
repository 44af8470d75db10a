package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

// DefaultHookTimeout bounds one hook run when no timeout is configured.
const DefaultHookTimeout = 5 * time.Minute

// maxDetailLength caps the hook output forwarded as feedback detail.
const maxDetailLength = 512

// Hook environment variables.
const (
	EnvControllerID = "DDI_CONTROLLER_ID"
	EnvActionID     = "DDI_ACTION_ID"
	EnvChunks       = "DDI_CHUNKS"
)

// ErrEmptyCommand is returned when the hook has no command.
var ErrEmptyCommand = errors.New("install hook: empty command")

// HookConfig describes the install command of one device.
type HookConfig struct {
	// Command is split on whitespace; the first field is the executable.
	Command      string
	Timeout      time.Duration
	ControllerID string
	Runner       CommandRunner
	Logger       *logrus.Entry
}

// InstallHook runs an external command in place of a real installation.
// A zero exit status means success.
type InstallHook struct {
	name         string
	args         []string
	timeout      time.Duration
	controllerID string
	runner       CommandRunner
	log          *logrus.Entry
}

// NewInstallHook validates cfg and resolves the executable.
func NewInstallHook(cfg HookConfig) (*InstallHook, error) {
	fields := strings.Fields(cfg.Command)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	h := &InstallHook{
		name:         fields[0],
		args:         fields[1:],
		timeout:      cfg.Timeout,
		controllerID: cfg.ControllerID,
		runner:       cfg.Runner,
		log:          cfg.Logger,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultHookTimeout
	}
	if h.log == nil {
		h.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if h.runner == nil {
		path, err := exec.LookPath(h.name)
		if err != nil {
			return nil, fmt.Errorf("install hook: %w", err)
		}
		h.name = path
		h.runner = &RealCommandRunner{}
	}
	return h, nil
}

// Install runs the hook for one action and returns its trimmed output as
// feedback details.
func (h *InstallHook) Install(ctx context.Context, actionID string, chunks []entity.Chunk) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	env := []string{
		EnvControllerID + "=" + h.controllerID,
		EnvActionID + "=" + actionID,
		EnvChunks + "=" + chunkList(chunks),
	}
	log := h.log.WithFields(logrus.Fields{
		"action_id": actionID,
		"command":   filepath.Base(h.name),
	})

	start := time.Now()
	output, err := h.runner.RunCommandWithOutput(ctx, env, h.name, h.args...)
	detail := lastLine(output)

	if ctx.Err() == context.DeadlineExceeded {
		log.WithField("timeout", h.timeout.String()).Warn("Install hook timed out")
		return nil, fmt.Errorf("install hook timed out after %v", h.timeout)
	}
	if err != nil {
		log.WithFields(logrus.Fields{"exit_code": ExitCode(err), "output": detail}).Warn("Install hook failed")
		if detail != "" {
			return nil, fmt.Errorf("install hook exited with %d: %s", ExitCode(err), detail)
		}
		return nil, fmt.Errorf("install hook exited with %d", ExitCode(err))
	}

	log.WithField("duration", time.Since(start).Round(time.Millisecond).String()).Info("Install hook succeeded")
	if detail == "" {
		return nil, nil
	}
	return []string{detail}, nil
}

// chunkList renders chunks as name:version pairs separated by commas.
func chunkList(chunks []entity.Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Name+":"+c.Version)
	}
	return strings.Join(parts, ",")
}

// lastLine returns the last non-empty line of output, truncated.
func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	line := strings.TrimSpace(lines[len(lines)-1])
	if len(line) > maxDetailLength {
		cut := maxDetailLength
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	return strings.ToValidUTF8(line, "?")
}
