// Package proc runs external tools (git, uv, pyenv, sphinx-build) as child
// processes: explicit argv, no shell, combined output streamed to the build
// log, one deadline per invocation.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Spec describes one child-process invocation. Argv[0] is resolved via PATH.
type Spec struct {
	Argv []string
	Dir  string
	// Env entries are appended to the parent environment; later entries
	// override earlier ones.
	Env []string
	// Timeout kills the process when exceeded. Zero means no deadline.
	Timeout time.Duration
	// Output receives stdout and stderr verbatim as the child produces
	// them. May be nil.
	Output io.Writer
}

// ExitError reports a non-zero child exit.
type ExitError struct {
	Argv []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", strings.Join(e.Argv, " "), e.Code)
}

// TimeoutError reports a child killed by its deadline.
type TimeoutError struct {
	Argv  []string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s killed after %s", strings.Join(e.Argv, " "), e.After)
}

// Runner executes Specs. The indirection exists so pipeline tests can record
// invocations instead of spawning tools.
type Runner interface {
	Run(ctx context.Context, spec Spec) error
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, spec Spec) error {
	if len(spec.Argv) == 0 {
		return errors.New("proc: empty argv")
	}
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	// Grandchildren holding the output pipe must not stall Wait forever.
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if spec.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Argv: spec.Argv, After: spec.Timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Argv: spec.Argv, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("start %s: %w", spec.Argv[0], err)
}
