package executil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/linbuild/linbuild/internal/logging"
)

func quietRunner() *Runner {
	return &Runner{Logger: logging.NewCLI(io.Discard, slog.LevelError)}
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	if err := quietRunner().Run(context.Background(), "true"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunFailureReturnsCommandError(t *testing.T) {
	t.Parallel()

	err := quietRunner().Run(context.Background(), "echo oops >&2; exit 3")
	if err == nil {
		t.Fatalf("expected error for failing command")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("unexpected exit code: %d", cmdErr.ExitCode)
	}
	if !strings.Contains(cmdErr.Stderr, "oops") {
		t.Fatalf("captured stderr missing diagnostic: %q", cmdErr.Stderr)
	}
}

func TestRunVerboseStreamsOutput(t *testing.T) {
	t.Parallel()

	var stdout, stderr strings.Builder
	runner := &Runner{
		Verbose: true,
		Stdout:  &stdout,
		Stderr:  &stderr,
		Logger:  logging.NewCLI(io.Discard, slog.LevelError),
	}

	if err := runner.Run(context.Background(), "echo out; echo err >&2"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != "out" {
		t.Fatalf("stdout not streamed: %q", got)
	}
	if got := strings.TrimSpace(stderr.String()); got != "err" {
		t.Fatalf("stderr not streamed: %q", got)
	}
}

func TestOutputCapturesRegardlessOfVerbosity(t *testing.T) {
	t.Parallel()

	var stdout strings.Builder
	runner := &Runner{
		Verbose: true,
		Stdout:  &stdout,
		Logger:  logging.NewCLI(io.Discard, slog.LevelError),
	}

	out, err := runner.Output(context.Background(), "echo 6.2.0-linbuild")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if !strings.Contains(out, "6.2.0-linbuild") {
		t.Fatalf("combined output missing content: %q", out)
	}
	if stdout.Len() != 0 {
		t.Fatalf("parsed output leaked to the runner's stdout: %q", stdout.String())
	}
}

func TestOutputCombinesStderr(t *testing.T) {
	t.Parallel()

	out, err := quietRunner().Output(context.Background(), "echo one; echo two >&2")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if !strings.Contains(out, "one") || !strings.Contains(out, "two") {
		t.Fatalf("expected combined streams, got %q", out)
	}
}

func TestRunnerEnvOverlay(t *testing.T) {
	t.Parallel()

	runner := &Runner{
		Env:    []string{"TMPDIR=/custom/scratch"},
		Logger: logging.NewCLI(io.Discard, slog.LevelError),
	}

	out, err := runner.Output(context.Background(), "printf %s \"$TMPDIR\"")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if out != "/custom/scratch" {
		t.Fatalf("environment overlay not applied: %q", out)
	}
}
