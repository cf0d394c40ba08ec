package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/config"
	"github.com/DeusData/errsel/internal/extract"
	"github.com/DeusData/errsel/internal/forge"
	"github.com/DeusData/errsel/internal/pipeline"
	"github.com/DeusData/errsel/internal/report"
	"github.com/DeusData/errsel/internal/store"
	"github.com/DeusData/errsel/internal/watcher"
)

// runFlags are shared by run, extract and watch.
type runFlags struct {
	project     string
	out         string
	reportPath  string
	format      string
	noBuild     bool
	index       bool
	indexPath   string
	workers     int
	missingType string
	lenient     bool
	logLevel    string
}

func (f *runFlags) register(fs *pflag.FlagSet, build bool) {
	fs.StringVar(&f.project, "project", ".", "project root holding the build config")
	fs.StringVar(&f.out, "out", "", "artifact directory relative to the project (default out)")
	fs.StringVar(&f.reportPath, "report", "", "report file relative to the project (default errorSignature.md)")
	fs.StringVar(&f.format, "format", "", "report format: markdown, json or html")
	if build {
		fs.BoolVar(&f.noBuild, "no-build", false, "skip the build step")
	}
	fs.BoolVar(&f.index, "index", false, "reuse and update the selector index")
	fs.StringVar(&f.indexPath, "index-path", "", "index database file (default ~/.cache/errsel/errsel.db)")
	fs.IntVar(&f.workers, "workers", 0, "parallel extraction workers (default number of CPUs)")
	fs.StringVar(&f.missingType, "missing-type", "", "parameters without a type: fail or placeholder")
	fs.BoolVar(&f.lenient, "lenient", false, "accept comments and trailing commas in artifacts")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
}

// validate rejects flag values the config layer would silently replace
// with defaults.
func (f *runFlags) validate(fs *pflag.FlagSet) error {
	if fs.Changed("format") {
		if _, err := report.ParseFormat(f.format); err != nil {
			return err
		}
	}
	if fs.Changed("missing-type") {
		if _, err := extract.ParseMissingTypePolicy(f.missingType); err != nil {
			return err
		}
	}
	if f.workers < 0 {
		return errors.Errorf("--workers must not be negative")
	}
	return nil
}

// apply overrides cfg with the flags that were set on the command line.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("out") {
		cfg.OutDir = &f.out
	}
	if fs.Changed("report") {
		cfg.Report.Path = &f.reportPath
	}
	if fs.Changed("format") {
		cfg.Report.Format = &f.format
	}
	if fs.Changed("no-build") {
		cfg.Build.Skip = &f.noBuild
	}
	if fs.Changed("index") {
		cfg.Index.Enabled = &f.index
	}
	if fs.Changed("index-path") {
		cfg.Index.Path = &f.indexPath
	}
	if fs.Changed("workers") {
		cfg.Workers = &f.workers
	}
	if fs.Changed("missing-type") {
		cfg.Extract.MissingType = &f.missingType
	}
	if fs.Changed("lenient") {
		cfg.Extract.LenientJSON = &f.lenient
	}
}

// session is one configured project, ready to run.
type session struct {
	root   string
	cfg    *config.Config
	format report.Format
	store  *store.Store
	stdout io.Writer
	stderr io.Writer
}

func newSession(ctx context.Context, name string, args []string, build bool, stdout, stderr io.Writer) (context.Context, *session, int) {
	var f runFlags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.register(fs, build)
	if code := parseFlags(fs, args, stderr); code >= 0 {
		return ctx, nil, code
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", fs.Arg(0))
		return ctx, nil, exitUsage
	}

	ctx, err := setupLogging(ctx, f.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ctx, nil, exitUsage
	}

	if err := f.validate(fs); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return ctx, nil, exitUsage
	}

	cfg := config.LoadConfig(ctx, f.project)
	f.apply(fs, cfg)
	if !build {
		skip := true
		cfg.Build.Skip = &skip
	}

	s := &session{root: f.project, cfg: cfg, format: cfg.EffectiveReportFormat(), stdout: stdout, stderr: stderr}
	if cfg.EffectiveIndexEnabled() {
		s.store, err = openStore(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return ctx, nil, exitFail
		}
	}
	return ctx, s, -1
}

func (s *session) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if p := cfg.EffectiveIndexPath(); p != "" {
		return store.OpenPath(p)
	}
	return store.Open("errsel")
}

func runCommand(ctx context.Context, name string, args []string, build bool, stdout, stderr io.Writer) int {
	ctx, s, code := newSession(ctx, name, args, build, stdout, stderr)
	if s == nil {
		return code
	}
	defer s.close()
	code, _ = s.runOnce(ctx)
	return code
}

// runOnce builds, extracts and writes the report. The error is non-nil
// whenever the exit code is.
func (s *session) runOnce(ctx context.Context) (int, error) {
	if !s.cfg.EffectiveBuildSkip() {
		b := &forge.Builder{Command: s.cfg.EffectiveBuildCommand(), Dir: s.root, Stdout: s.stderr}
		if err := b.Build(ctx); err != nil {
			var be *forge.BuildError
			if errors.As(err, &be) {
				fmt.Fprint(s.stderr, be.Stderr)
				fmt.Fprintf(s.stderr, "error: build failed with exit status %d\n", be.ExitCode)
			} else {
				fmt.Fprintf(s.stderr, "error: %v\n", err)
			}
			return exitFail, err
		}
	}

	outDir := pipeline.OutDir(s.cfg, s.root)
	opts := pipeline.OptionsFromConfig(s.cfg, s.root)
	opts.Store = s.store
	res, err := pipeline.New(opts).Run(ctx, outDir)
	if errors.Is(err, pipeline.ErrNoArtifacts) {
		fmt.Fprintf(s.stdout, "No AST files found in the '%s' directory.\n", outDir)
		return exitOK, nil
	}
	if err != nil {
		fmt.Fprintf(s.stderr, "error: %v\n", err)
		return exitFail, err
	}

	path := s.cfg.EffectiveReportPath()
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	if err := writeReport(path, res.Report, s.format); err != nil {
		fmt.Fprintf(s.stderr, "error: %v\n", err)
		return exitFail, err
	}
	slogctx.Info(ctx, "report.written",
		"path", path,
		"errors", res.Report.Count(),
		"artifacts", res.Stats.Artifacts,
		"cached", res.Stats.Cached,
	)
	return exitOK, nil
}

// writeReport renders r to a temp file next to path, then renames it into place.
func writeReport(path string, r *report.Report, format report.Format) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Errorf("create report dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".errsel-report-*")
	if err != nil {
		return errors.Errorf("create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := report.Write(tmp, r, format); err != nil {
		_ = tmp.Close()
		return errors.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Errorf("write report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Errorf("write report: %w", err)
	}
	return nil
}

func watchCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, s, code := newSession(ctx, "watch", args, true, stdout, stderr)
	if s == nil {
		return code
	}
	defer s.close()

	targets := []watcher.Target{{Dir: pipeline.OutDir(s.cfg, s.root)}}
	for _, p := range s.cfg.EffectiveWatchPaths() {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.root, p)
		}
		targets = append(targets, watcher.Target{Dir: p, Extensions: []string{".sol"}})
	}

	runFn := func(ctx context.Context) error {
		_, err := s.runOnce(ctx)
		return err
	}
	if err := runFn(ctx); err != nil {
		slogctx.Warn(ctx, "watch.initial", "err", err)
	}

	slogctx.Info(ctx, "watch.start", "targets", len(targets))
	w := watcher.New(targets, runFn, watcher.WithBaseInterval(time.Second))
	w.Run(ctx)
	slogctx.Info(ctx, "watch.stop")
	return exitOK
}
