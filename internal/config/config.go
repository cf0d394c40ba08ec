// Package config reads per-project settings from .errselconfig.
package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	slogctx "github.com/veqryn/slog-context"
	"gopkg.in/yaml.v3"

	"github.com/DeusData/errsel/internal/extract"
	"github.com/DeusData/errsel/internal/forge"
	"github.com/DeusData/errsel/internal/report"
)

// FileName is the config file looked up in the project root.
const FileName = ".errselconfig"

const (
	DefaultOutDir     = "out"
	DefaultReportPath = "errorSignature.md"
)

var defaultWatchPaths = []string{"src"}

// Config holds user-overridable settings. Unset fields fall back to the
// defaults returned by the Effective accessors.
type Config struct {
	OutDir  *string       `yaml:"out_dir"`
	Workers *int          `yaml:"workers"`
	Ignore  []string      `yaml:"ignore"`
	Report  ReportConfig  `yaml:"report"`
	Build   BuildConfig   `yaml:"build"`
	Extract ExtractConfig `yaml:"extract"`
	Watch   WatchConfig   `yaml:"watch"`
	Index   IndexConfig   `yaml:"index"`
}

type ReportConfig struct {
	Path   *string `yaml:"path"`
	Format *string `yaml:"format"`
}

type BuildConfig struct {
	// Command is the argv of the build step. Empty means forge build --ast.
	Command []string `yaml:"command"`
	Skip    *bool    `yaml:"skip"`
}

type ExtractConfig struct {
	// MissingType is "fail" or "placeholder".
	MissingType *string `yaml:"missing_type"`
	LenientJSON *bool   `yaml:"lenient_json"`
}

type WatchConfig struct {
	// Paths are watched relative to the project root in addition to the out dir.
	Paths []string `yaml:"paths"`
}

type IndexConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Path    *string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig reads .errselconfig from dir. A missing file yields the
// defaults; an invalid file is reported and also yields the defaults.
func LoadConfig(ctx context.Context, dir string) *Config {
	cfg := DefaultConfig()

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slogctx.Warn(ctx, "config.parse.err", "path", path, "err", err)
		return DefaultConfig()
	}
	return cfg
}

func (c *Config) EffectiveOutDir() string {
	if c.OutDir != nil && *c.OutDir != "" {
		return *c.OutDir
	}
	return DefaultOutDir
}

// EffectiveWorkers returns the configured worker count, or the number of
// CPUs when unset or not positive.
func (c *Config) EffectiveWorkers() int {
	if c.Workers != nil && *c.Workers > 0 {
		return *c.Workers
	}
	return runtime.NumCPU()
}

func (c *Config) EffectiveReportPath() string {
	if c.Report.Path != nil && *c.Report.Path != "" {
		return *c.Report.Path
	}
	return DefaultReportPath
}

// EffectiveReportFormat falls back to markdown for unset or unknown names.
func (c *Config) EffectiveReportFormat() report.Format {
	if c.Report.Format == nil {
		return report.FormatMarkdown
	}
	f, err := report.ParseFormat(*c.Report.Format)
	if err != nil {
		return report.FormatMarkdown
	}
	return f
}

func (c *Config) EffectiveBuildCommand() []string {
	if len(c.Build.Command) > 0 {
		return c.Build.Command
	}
	return forge.DefaultCommand
}

func (c *Config) EffectiveBuildSkip() bool {
	return c.Build.Skip != nil && *c.Build.Skip
}

// EffectiveMissingType falls back to MissingTypeFail for unset or unknown names.
func (c *Config) EffectiveMissingType() extract.MissingTypePolicy {
	if c.Extract.MissingType == nil {
		return extract.MissingTypeFail
	}
	p, err := extract.ParseMissingTypePolicy(*c.Extract.MissingType)
	if err != nil {
		return extract.MissingTypeFail
	}
	return p
}

func (c *Config) EffectiveLenientJSON() bool {
	return c.Extract.LenientJSON != nil && *c.Extract.LenientJSON
}

func (c *Config) EffectiveWatchPaths() []string {
	if len(c.Watch.Paths) > 0 {
		return c.Watch.Paths
	}
	return defaultWatchPaths
}

func (c *Config) EffectiveIndexEnabled() bool {
	return c.Index.Enabled != nil && *c.Index.Enabled
}

// EffectiveIndexPath returns the configured database path, or an empty
// string to use the default cache location.
func (c *Config) EffectiveIndexPath() string {
	if c.Index.Path != nil {
		return *c.Index.Path
	}
	return ""
}
