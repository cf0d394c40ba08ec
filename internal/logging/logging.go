// Package logging configures the process logger and attaches it to a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/lmittmann/tint"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
)

const TimeFormat = "2006-01-02 15:04:05.000"

// Options configures Setup.
type Options struct {
	Level     slog.Level
	NoColor   bool
	AddSource bool
	// TimeFormat defaults to TimeFormat; "-" drops timestamps.
	TimeFormat string
}

// ParseLevel accepts debug, info, warn or error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, errors.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// Setup builds a tint handler writing to w, wraps it so attributes stored
// in a context are added to every record, installs it as the default
// logger and returns ctx carrying it.
func Setup(ctx context.Context, w io.Writer, opts Options) context.Context {
	logger := New(w, opts)
	slog.SetDefault(logger)
	return slogctx.NewCtx(ctx, logger)
}

// New returns the logger Setup would install, without touching the default.
func New(w io.Writer, opts Options) *slog.Logger {
	timeFormat := opts.TimeFormat
	if timeFormat == "" {
		timeFormat = TimeFormat
	}
	tintHandler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: timeFormat,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if timeFormat == "-" && len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return formatErrorStacks(groups, a)
		},
	})
	return slog.New(slogctx.NewHandler(tintHandler, nil))
}

// formatErrorStacks expands an "err" attribute carrying a stack trace into
// the error plus the function and file where it was created.
func formatErrorStacks(_ []string, a slog.Attr) slog.Attr {
	if a.Key != "err" && a.Key != "error" {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}
	var terr errors.E
	if !errors.As(err, &terr) {
		return a
	}
	stack := terr.StackTrace()
	if len(stack) == 0 {
		return a
	}
	frame, _ := runtime.CallersFrames(stack).Next()
	if frame.Function == "" {
		return a
	}
	fn := frame.Function
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	a.Value = slog.GroupValue(
		slog.String("msg", err.Error()),
		slog.String("func", fn),
		slog.String("file", filepath.Base(filepath.Dir(frame.File))+"/"+filepath.Base(frame.File)),
	)
	return a
}
