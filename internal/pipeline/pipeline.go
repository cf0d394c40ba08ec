package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/errsel/internal/artifact"
	"github.com/DeusData/errsel/internal/ast"
	"github.com/DeusData/errsel/internal/discover"
	"github.com/DeusData/errsel/internal/extract"
	"github.com/DeusData/errsel/internal/report"
	"github.com/DeusData/errsel/internal/selector"
	"github.com/DeusData/errsel/internal/store"
)

// ErrNoArtifacts is returned by Run when no file under the directory holds a
// syntax tree.
var ErrNoArtifacts = errors.Base("no AST artifacts found")

// Options configures a Pipeline.
type Options struct {
	// Workers bounds the parallel extraction stage. Zero means NumCPU.
	Workers     int
	MissingType extract.MissingTypePolicy
	Lenient     bool
	Discover    *discover.Options
	// Store enables the selector index. Unchanged artifacts are served from
	// it without parsing, and every run's results are written back.
	Store *store.Store
	// Project names the run in the index. Empty derives it from RootPath.
	Project string
	// RootPath is the project root recorded in the index. Empty means the
	// parent of the artifact directory.
	RootPath string
}

// Stats summarizes one run.
type Stats struct {
	Files           int
	Artifacts       int
	Cached          int
	ParseErrors     int
	Signatures      int
	SignatureErrors int
	Removed         int
	Elapsed         time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	Project string
	Report  *report.Report
	Stats   Stats
}

// Pipeline turns a directory of artifacts into a report.
type Pipeline struct {
	opts Options
}

// New creates a new Pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts}
}

// ProjectNameFromPath derives a unique project name from an absolute path
// by replacing path separators with dashes and trimming the leading dash.
func ProjectNameFromPath(absPath string) string {
	cleaned := filepath.ToSlash(filepath.Clean(absPath))
	name := strings.ReplaceAll(cleaned, "/", "-")
	name = strings.TrimLeft(name, "-")
	if name == "" {
		return "root"
	}
	return name
}

type sigFailure struct {
	Signature string
	Err       error
}

type fileResult struct {
	File     discover.FileInfo
	Hash     string
	Cached   bool
	NoAST    bool
	Err      error
	Entries  []report.Entry
	Failures []sigFailure
}

// Run loads every artifact under dir, extracts error signatures, derives
// their selectors and returns the aggregated report. Unreadable files and
// failing signatures are logged and skipped. It returns ErrNoArtifacts when
// nothing under dir carries a syntax tree.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Result, error) {
	start := time.Now()

	rootPath := p.opts.RootPath
	if rootPath == "" {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		rootPath = filepath.Dir(absDir)
	}
	project := p.opts.Project
	if project == "" {
		project = ProjectNameFromPath(rootPath)
	}
	ctx = slogctx.With(ctx, "project", project)
	slogctx.Info(ctx, "pipeline.start", "dir", dir)

	files, err := discover.Discover(ctx, dir, p.opts.Discover)
	if err != nil {
		return nil, errors.Errorf("discover: %w", err)
	}
	slogctx.Info(ctx, "pipeline.discovered", "files", len(files))

	var stored map[string]string
	if p.opts.Store != nil {
		stored, err = p.opts.Store.GetArtifactHashes(project)
		if err != nil {
			slogctx.Warn(ctx, "incremental.hashes.err", "err", err)
			stored = nil
		}
	}

	results, err := p.extractAll(ctx, files, stored)
	if err != nil {
		return nil, err
	}

	res := &Result{Project: project}
	res.Stats.Files = len(files)

	if p.opts.Store == nil {
		res.Report, err = p.aggregate(ctx, nil, project, results, &res.Stats)
		if err != nil {
			return nil, err
		}
	} else {
		err = p.opts.Store.WithTransaction(func(tx *store.Store) error {
			if err := tx.UpsertProject(project, rootPath); err != nil {
				return errors.Errorf("upsert project: %w", err)
			}
			var aggErr error
			res.Report, aggErr = p.aggregate(ctx, tx, project, results, &res.Stats)
			if aggErr != nil {
				return aggErr
			}
			if res.Stats.Artifacts == 0 && len(stored) == 0 {
				return errors.WithStack(ErrNoArtifacts)
			}
			// Runs even when nothing loads, so vanished artifacts leave the index.
			res.Stats.Removed = removeDeleted(ctx, tx, project, stored, results)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if res.Stats.Artifacts == 0 {
		return nil, errors.WithStack(ErrNoArtifacts)
	}

	res.Stats.Elapsed = time.Since(start)
	slogctx.Info(ctx, "pipeline.done",
		"artifacts", res.Stats.Artifacts,
		"cached", res.Stats.Cached,
		"signatures", res.Stats.Signatures,
		"failed", res.Stats.ParseErrors+res.Stats.SignatureErrors,
		"elapsed", res.Stats.Elapsed)
	return res, nil
}

// extractAll runs the per-file stage in parallel. Each worker writes only
// its own slot, so results keep discovery order.
func (p *Pipeline) extractAll(ctx context.Context, files []discover.FileInfo, stored map[string]string) ([]*fileResult, error) {
	results := make([]*fileResult, len(files))
	if len(files) == 0 {
		return results, nil
	}
	numWorkers := p.opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for i, f := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = p.processFile(f, stored)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithStack(err)
	}
	return results, nil
}

func (p *Pipeline) processFile(f discover.FileInfo, stored map[string]string) *fileResult {
	r := &fileResult{File: f}
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		r.Err = errors.Errorf("read %s: %w", f.Path, err)
		return r
	}
	// The policy changes which signatures survive, so it is part of the key.
	r.Hash = artifact.Hash(data) + "-" + p.opts.MissingType.String()
	if h, ok := stored[f.RelPath]; ok && h == r.Hash {
		r.Cached = true
		return r
	}

	a, err := artifact.Parse(f.Path, data, artifact.Options{Lenient: p.opts.Lenient})
	if errors.Is(err, artifact.ErrNoAST) {
		r.NoAST = true
		return r
	}
	if err != nil {
		r.Err = err
		return r
	}
	r.Entries, r.Failures = p.entries(a.Root)
	return r
}

// entries extracts and derives every signature of one tree. A signature
// seen twice in the same tree keeps its first position.
func (p *Pipeline) entries(root ast.Node) ([]report.Entry, []sigFailure) {
	var out []report.Entry
	var failures []sigFailure
	seen := make(map[string]bool)
	for def := range extract.Definitions(root) {
		sig, err := def.Signature(p.opts.MissingType)
		if err != nil {
			failures = append(failures, sigFailure{Signature: def.String(), Err: err})
			continue
		}
		if seen[sig] {
			continue
		}
		sel, err := selector.Derive(sig)
		if err != nil {
			failures = append(failures, sigFailure{Signature: sig, Err: err})
			continue
		}
		seen[sig] = true
		out = append(out, report.Entry{Signature: sig, Selector: sel})
	}
	return out, failures
}

// aggregate folds per-file results into the report in discovery order and,
// when tx is set, writes changed artifacts to the index.
func (p *Pipeline) aggregate(ctx context.Context, tx *store.Store, project string, results []*fileResult, stats *Stats) (*report.Report, error) {
	b := report.NewBuilder()
	for _, r := range results {
		if r == nil || r.NoAST {
			continue
		}
		if r.Err != nil {
			stats.ParseErrors++
			slogctx.Warn(ctx, "artifact.parse.err", "path", r.File.Path, "err", r.Err)
			continue
		}

		entries := r.Entries
		if r.Cached {
			recs, err := tx.ArtifactErrors(project, r.File.RelPath)
			if err != nil {
				return nil, errors.Errorf("load cached %s: %w", r.File.RelPath, err)
			}
			entries = make([]report.Entry, 0, len(recs))
			for _, rec := range recs {
				entries = append(entries, report.Entry{Signature: rec.Signature, Selector: rec.Selector})
			}
			stats.Cached++
		}
		stats.Artifacts++

		for _, f := range r.Failures {
			stats.SignatureErrors++
			slogctx.Warn(ctx, "signature.err", "path", r.File.Path, "signature", f.Signature, "err", f.Err)
		}

		b.Touch(r.File.Path)
		for _, e := range entries {
			b.Add(r.File.Path, e.Signature, e.Selector)
		}
		stats.Signatures += len(entries)

		if tx != nil && !r.Cached {
			recs := make([]store.ErrorRecord, 0, len(entries))
			for _, e := range entries {
				recs = append(recs, store.ErrorRecord{Signature: e.Signature, Selector: e.Selector})
			}
			a := store.Artifact{Project: project, RelPath: r.File.RelPath, Path: r.File.Path, Hash: r.Hash}
			if len(r.Failures) > 0 {
				// No stored hash, so the next run parses the file again and
				// reports its failing signatures again.
				a.Hash = ""
			}
			if err := tx.ReplaceArtifact(a, recs); err != nil {
				return nil, errors.Errorf("index %s: %w", r.File.RelPath, err)
			}
		}
		slogctx.Debug(ctx, "artifact.extracted", "path", r.File.Path, "errors", len(entries), "cached", r.Cached)
	}

	return b.Build(), nil
}

// removeDeleted drops indexed artifacts that are gone or no longer load.
func removeDeleted(ctx context.Context, tx *store.Store, project string, stored map[string]string, results []*fileResult) int {
	current := make(map[string]bool, len(results))
	for _, r := range results {
		if r != nil && r.Err == nil && !r.NoAST {
			current[r.File.RelPath] = true
		}
	}
	removed := 0
	for rel := range stored {
		if current[rel] {
			continue
		}
		if err := tx.DeleteArtifact(project, rel); err != nil {
			slogctx.Warn(ctx, "incremental.remove.err", "file", rel, "err", err)
			continue
		}
		removed++
		slogctx.Info(ctx, "incremental.removed", "file", rel)
	}
	return removed
}
