// Package system runs the optional per-device install hook.
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// CommandRunner executes a command with extra environment variables.
// This allows for easy mocking in tests.
type CommandRunner interface {
	RunCommandWithOutput(ctx context.Context, env []string, command string, args ...string) ([]byte, error)
}

// RealCommandRunner executes actual system commands.
type RealCommandRunner struct{}

// RunCommandWithOutput runs command with env appended to the process
// environment and returns its combined output.
func (r *RealCommandRunner) RunCommandWithOutput(ctx context.Context, env []string, command string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, command, args...) //nolint:gosec // command comes from the operator's configuration
	cmd.Env = append(os.Environ(), env...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("command execution failed: %w", err)
	}
	return output, nil
}

// ExitCode returns the exit status carried by err, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// MockCommandRunner is a mock implementation for testing.
type MockCommandRunner struct {
	mu sync.Mutex
	// Commands records all executed commands
	Commands []MockExecutedCommand
	// Err is returned by every call when set
	Err error
	// Output is returned by every call
	Output []byte
}

// MockExecutedCommand represents a command that was executed by the mock runner.
type MockExecutedCommand struct {
	Command string
	Args    []string
	Env     []string
}

// NewMockCommandRunner creates a new mock command runner.
func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{}
}

// RunCommandWithOutput records the call and returns the configured result.
func (m *MockCommandRunner) RunCommandWithOutput(ctx context.Context, env []string, command string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = append(m.Commands, MockExecutedCommand{Command: command, Args: args, Env: env})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	return m.Output, m.Err
}

// GetExecutedCommands returns all executed commands.
func (m *MockCommandRunner) GetExecutedCommands() []MockExecutedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockExecutedCommand(nil), m.Commands...)
}
