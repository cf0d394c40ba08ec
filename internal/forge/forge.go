// Package forge runs the project build that writes AST artifacts.
package forge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

// DefaultCommand builds the project with syntax trees in the artifacts.
var DefaultCommand = []string{"forge", "build", "--ast"}

// ErrNotFound is returned when the build executable is not on PATH.
var ErrNotFound = errors.Base("build tool not found")

// BuildError reports a build that ran and failed. Stderr holds the tool's
// diagnostics as it printed them.
type BuildError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *BuildError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", strings.Join(e.Command, " "), e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", strings.Join(e.Command, " "), e.ExitCode, msg)
}

// Builder runs Command in Dir with no stdin.
type Builder struct {
	Command []string
	Dir     string
	// Timeout bounds the build. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Stdout receives the tool's standard output. Nil discards it.
	Stdout io.Writer
}

// Build runs the build command. A non-zero exit yields a *BuildError.
func (b *Builder) Build(ctx context.Context) error {
	argv := b.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return errors.Errorf("%w: %s: install it or set build.command", ErrNotFound, argv[0])
	}

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, argv[1:]...)
	cmd.Dir = b.Dir
	cmd.Stdin = nil
	cmd.Stdout = b.Stdout
	cmd.Stderr = &stderr

	start := time.Now()
	slogctx.Info(ctx, "build.start", "cmd", strings.Join(argv, " "), "dir", b.Dir)
	err = cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slogctx.Debug(ctx, "build.exit", "code", exitErr.ExitCode())
			return errors.WithStack(&BuildError{
				Command:  argv,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			})
		}
		return errors.Errorf("run %s: %w", strings.Join(argv, " "), err)
	}
	slogctx.Info(ctx, "build.done", "elapsed", time.Since(start))
	return nil
}
