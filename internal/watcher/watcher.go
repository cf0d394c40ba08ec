package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/discover"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// Target is one directory tree to watch.
type Target struct {
	Dir string
	// Extensions limits the watched files, as in discover.Options.
	Extensions []string
}

// RunFunc is called when a change is detected.
type RunFunc func(ctx context.Context) error

// Watcher polls its targets for file changes and calls runFn.
type Watcher struct {
	targets  []Target
	runFn    RunFunc
	base     time.Duration
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithBaseInterval sets the tick and minimum poll interval.
func WithBaseInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.base = d
		}
	}
}

// New creates a Watcher. runFn is called when file changes are detected.
func New(targets []Target, runFn RunFunc, opts ...Option) *Watcher {
	w := &Watcher{targets: targets, runFn: runFn, base: baseInterval}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled. It ticks at the base interval and
// polls only when the adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.base)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().Before(w.nextPoll) {
				continue
			}
			w.poll(ctx)
		}
	}
}

// poll captures a snapshot and compares it with the previous one.
// First poll: captures the baseline without calling runFn.
// Later polls: call runFn if any file changed.
func (w *Watcher) poll(ctx context.Context) {
	snap := w.captureSnapshot(ctx)
	interval := pollInterval(w.base, len(snap))

	if w.snapshot == nil {
		slogctx.Debug(ctx, "watcher.baseline", "files", len(snap))
		w.snapshot = snap
		w.interval = interval
		w.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(w.snapshot, snap) {
		w.interval = interval
		w.nextPoll = time.Now().Add(interval)
		return
	}

	slogctx.Info(ctx, "watcher.changed", "files", len(snap))
	if err := w.runFn(ctx); err != nil {
		slogctx.Warn(ctx, "watcher.run", "err", err)
		// Keep old snapshot so we retry next cycle
		w.nextPoll = time.Now().Add(interval)
		return
	}

	// The run itself may write into watched trees; take those writes as the new baseline.
	w.snapshot = w.captureSnapshot(ctx)
	w.interval = pollInterval(w.base, len(w.snapshot))
	w.nextPoll = time.Now().Add(w.interval)
}

// captureSnapshot walks every target with discover.Discover and records
// mtime+size per file. Missing targets contribute nothing.
func (w *Watcher) captureSnapshot(ctx context.Context) map[string]fileSnapshot {
	snap := make(map[string]fileSnapshot)
	for _, t := range w.targets {
		files, err := discover.Discover(ctx, t.Dir, &discover.Options{Extensions: t.Extensions})
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slogctx.Debug(ctx, "watcher.snapshot", "dir", t.Dir, "err", err)
			}
			continue
		}
		for _, f := range files {
			info, statErr := os.Stat(f.AbsPath)
			if statErr != nil {
				continue
			}
			snap[filepath.ToSlash(filepath.Join(t.Dir, f.RelPath))] = fileSnapshot{
				modTime: info.ModTime(),
				size:    info.Size(),
			}
		}
	}
	return snap
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count:
// base plus one base per 500 files, capped at 60s.
func pollInterval(base time.Duration, fileCount int) time.Duration {
	d := base + time.Duration(fileCount/500)*base
	if d > maxInterval {
		d = maxInterval
	}
	return d
}
