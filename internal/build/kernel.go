package build

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// kernelVersion asks the build tool for the kernel release string. The
// output is always captured, never displayed: make's kernelrelease target
// emits the version as the second-to-last line of its output (a trailing
// status line follows it), and that positional convention is relied on here.
func (p *Pipeline) kernelVersion(ctx context.Context) (string, error) {
	command := joinCommand(
		p.Config.Make.Command,
		"-C", p.Config.TargetDir,
		"kernelrelease",
	)

	out, err := p.Runner.Output(ctx, command)
	if err != nil {
		p.logger().Error("failed to determine kernel version", "error", err)
		return "", fmt.Errorf("determine kernel version: %w", err)
	}

	lines := splitLines(out)
	if len(lines) < 2 {
		return "", fmt.Errorf("unexpected kernelrelease output: %d line(s)", len(lines))
	}
	return lines[len(lines)-2], nil
}

// kernelImage locates the built boot image under the architecture-specific
// boot directory of the target tree.
func (p *Pipeline) kernelImage() (string, error) {
	pattern := filepath.Join(p.Config.TargetDir, "arch", "*", "boot", p.Config.ImageType)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		p.logger().Error("unable to find kernel image", "pattern", pattern)
		return "", fmt.Errorf("unable to find kernel image under %s", pattern)
	}
	return matches[0], nil
}

// splitLines splits command output into lines, ignoring the empty fragment
// a trailing newline would otherwise produce.
func splitLines(out string) []string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	lines := strings.Split(out, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// joinCommand assembles a shell command line from the non-empty parts.
func joinCommand(parts ...string) string {
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			fields = append(fields, part)
		}
	}
	return strings.Join(fields, " ")
}
