package pipeline

import (
	"path/filepath"

	"github.com/DeusData/errsel/internal/config"
	"github.com/DeusData/errsel/internal/discover"
)

// OptionsFromConfig maps project settings onto pipeline options. Store is
// left unset.
func OptionsFromConfig(cfg *config.Config, root string) Options {
	opts := Options{
		Workers:     cfg.EffectiveWorkers(),
		MissingType: cfg.EffectiveMissingType(),
		Lenient:     cfg.EffectiveLenientJSON(),
		RootPath:    root,
	}
	if len(cfg.Ignore) > 0 {
		opts.Discover = &discover.Options{Ignore: cfg.Ignore}
	}
	if abs, err := filepath.Abs(root); err == nil {
		opts.RootPath = abs
	}
	return opts
}

// OutDir resolves the configured artifact directory against root.
func OutDir(cfg *config.Config, root string) string {
	out := cfg.EffectiveOutDir()
	if filepath.IsAbs(out) {
		return out
	}
	return filepath.Join(root, out)
}
