package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oshokin/crx-builder/internal/logger"
)

// ErrToolFailed is returned when an external tool cannot be started or exits non-zero.
var ErrToolFailed = errors.New("external tool failed")

// maxOutputInError bounds how much tool output is quoted in an error.
const maxOutputInError = 512

// Result is the outcome of a finished invocation.
type Result struct {
	// Output holds combined stdout and stderr.
	Output string
	// ExitCode is the process exit status, -1 if it did not run.
	ExitCode int
}

// CommandRunner executes a command and waits for it to finish.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each invocation when positive.
	Timeout time.Duration
}

var _ CommandRunner = (*ExecRunner)(nil)

// Run starts name with args and blocks until it exits.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	logger.DebugKV(ctx, "Running command", "command", name, "args", args)

	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &Result{
		Output:   out.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	logger.DebugKV(ctx, "Command finished", "command", name, "exit_code", result.ExitCode)

	if err != nil {
		return result, fmt.Errorf("%w: %s: %w%s", ErrToolFailed, name, err, quote(result.Output))
	}

	return result, nil
}

// FakeCommandRunner records invocations and replays canned results.
type FakeCommandRunner struct {
	// Calls holds every invocation as name followed by args.
	Calls [][]string
	// Hook runs for each invocation when set; its error is returned as a tool failure.
	Hook func(name string, args []string) error
	// Output is returned as the output of every invocation.
	Output string
}

var _ CommandRunner = (*FakeCommandRunner)(nil)

// Run records the call and runs Hook.
func (f *FakeCommandRunner) Run(_ context.Context, name string, args ...string) (*Result, error) {
	f.Calls = append(f.Calls, append([]string{name}, args...))

	if f.Hook != nil {
		if err := f.Hook(name, args); err != nil {
			return &Result{Output: f.Output, ExitCode: 1}, fmt.Errorf("%w: %s: %w", ErrToolFailed, name, err)
		}
	}

	return &Result{Output: f.Output}, nil
}

func quote(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}

	if len(output) > maxOutputInError {
		output = output[:maxOutputInError] + "..."
	}

	return ": " + output
}
