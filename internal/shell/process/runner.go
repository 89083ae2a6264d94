// Package process runs external command-line tools (terraform, ansible,
// aks-engine, az) behind a substitutable interface.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes one invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the runner's base environment as KEY=VALUE pairs.
	Env []string
}

// String renders the command for logs. Arguments are not quoted.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the exit code and combined stdout/stderr of a finished command.
type Result struct {
	ExitCode int
	Output   []byte
}

// Runner executes commands. A non-zero exit is reported through
// Result.ExitCode with a nil error; err is reserved for failures to start
// or wait on the process, including context cancellation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError is returned by Check for a command that exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 2048 {
		out = "..." + out[len(out)-2048:]
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, out)
}

// Check runs cmd and turns a non-zero exit into an *ExitError.
func Check(ctx context.Context, r Runner, cmd Command) ([]byte, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return res.Output, err
	}
	if res.ExitCode != 0 {
		return res.Output, &ExitError{Command: cmd.Name, ExitCode: res.ExitCode, Output: string(res.Output)}
	}
	return res.Output, nil
}

// =============================================================================
// os/exec implementation
// =============================================================================

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// BaseEnv is the environment every command starts from. Nil means the
	// current process environment.
	BaseEnv []string
	logger  *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(baseEnv []string, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		BaseEnv: baseEnv,
		logger:  logger.With("component", "process"),
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	base := r.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	c.Env = append(append([]string{}, base...), cmd.Env...)

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		r.logger.Debug("command finished", "cmd", cmd.Name, "dir", cmd.Dir, "duration", elapsed)
		return Result{ExitCode: 0, Output: out.Bytes()}, nil
	case ctx.Err() != nil:
		return Result{ExitCode: -1, Output: out.Bytes()}, fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	case errors.As(err, &exitErr):
		r.logger.Warn("command exited non-zero", "cmd", cmd.Name, "dir", cmd.Dir, "exit_code", exitErr.ExitCode(), "duration", elapsed)
		return Result{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
	default:
		return Result{ExitCode: -1, Output: out.Bytes()}, fmt.Errorf("start %s: %w", cmd.Name, err)
	}
}
