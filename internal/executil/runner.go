// Package executil runs the external commands a kernel build is made of:
// make invocations, initramfs generators, cleanup targets. Commands are full
// shell command lines, executed through the shell so configured option
// strings expand the same way they would interactively.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/linbuild/linbuild/internal/logging"
)

const defaultShell = "/bin/sh"

// CommandError reports a command that ran and exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with exit code %d", e.Command, e.ExitCode)
}

// Runner executes shell command lines on behalf of the build stages.
//
// Verbose selects between streaming child output to the runner's writers and
// capturing it silently. Env is an overlay of KEY=VALUE pairs appended to the
// inherited environment; the configuration's scratch directory travels here
// rather than through a process-global setenv, so independent runners can
// coexist in one process.
type Runner struct {
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Env     []string
	Logger  *slog.Logger
}

// Run executes the command line through the shell.
//
// In verbose mode the child's standard streams pass through to the runner's
// writers. Otherwise both are captured, and on failure the captured stderr is
// logged at error severity before a *CommandError is returned.
func (r *Runner) Run(ctx context.Context, command string) error {
	cmd := r.newCommand(ctx, command)

	var stderr bytes.Buffer
	if r.Verbose {
		cmd.Stdout = r.stdout()
		cmd.Stderr = r.stderr()
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		return r.wrapFailure(command, stderr.String(), err)
	}
	return nil
}

// Output executes the command line and returns its combined stdout and
// stderr. Output is always captured regardless of verbosity: callers parse
// it, they do not display it.
func (r *Runner) Output(ctx context.Context, command string) (string, error) {
	cmd := r.newCommand(ctx, command)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		return "", r.wrapFailure(command, combined.String(), err)
	}
	return combined.String(), nil
}

func (r *Runner) newCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, defaultShell, "-c", command)
	cmd.Env = append(os.Environ(), r.Env...)
	return cmd
}

func (r *Runner) wrapFailure(command, stderr string, err error) error {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return fmt.Errorf("run %q: %w", command, err)
	}

	logger := r.logger()
	logger.Error("command failed", "command", command, "exit_code", exitErr.ExitCode())
	if stderr != "" {
		logger.Error("full content of stderr", "stderr", stderr)
	}
	return &CommandError{
		Command:  command,
		ExitCode: exitErr.ExitCode(),
		Stderr:   stderr,
	}
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

func (r *Runner) logger() *slog.Logger {
	return logging.Ensure(r.Logger)
}
