package tools

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/config"
	"github.com/DeusData/errsel/internal/forge"
	"github.com/DeusData/errsel/internal/pipeline"
	"github.com/DeusData/errsel/internal/report"
)

type statsInfo struct {
	Files           int   `json:"files"`
	Artifacts       int   `json:"artifacts"`
	Cached          int   `json:"cached"`
	ParseErrors     int   `json:"parse_errors"`
	Signatures      int   `json:"signatures"`
	SignatureErrors int   `json:"signature_errors"`
	Removed         int   `json:"removed"`
	ElapsedMS       int64 `json:"elapsed_ms"`
}

func (s *Server) handleExtractErrorSelectors(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	projectPath := getStringArg(args, "project_path")
	if projectPath == "" {
		return errResult("project_path is required"), nil
	}
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}

	cfg := config.LoadConfig(ctx, absPath)
	if out := getStringArg(args, "out_dir"); out != "" {
		cfg.OutDir = &out
	}
	outDir := pipeline.OutDir(cfg, absPath)

	// Serialize with other runs against the same index.
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if getBoolArg(args, "build") {
		b := &forge.Builder{Command: cfg.EffectiveBuildCommand(), Dir: absPath}
		if err := b.Build(ctx); err != nil {
			var be *forge.BuildError
			if errors.As(err, &be) {
				return errResult(fmt.Sprintf("build failed (exit %d):\n%s", be.ExitCode, be.Stderr)), nil
			}
			return errResult(fmt.Sprintf("build failed: %v", err)), nil
		}
	}

	opts := pipeline.OptionsFromConfig(cfg, absPath)
	opts.Store = s.store
	res, err := pipeline.New(opts).Run(ctx, outDir)
	if errors.Is(err, pipeline.ErrNoArtifacts) {
		return errResult(fmt.Sprintf("No AST files found in the '%s' directory.", outDir)), nil
	}
	if err != nil {
		return errResult(fmt.Sprintf("extraction failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"project": res.Project,
		"out_dir": outDir,
		"stats":   toStatsInfo(res.Stats),
		"files":   filesOrEmpty(res.Report),
	}), nil
}

func toStatsInfo(st pipeline.Stats) statsInfo {
	return statsInfo{
		Files:           st.Files,
		Artifacts:       st.Artifacts,
		Cached:          st.Cached,
		ParseErrors:     st.ParseErrors,
		Signatures:      st.Signatures,
		SignatureErrors: st.SignatureErrors,
		Removed:         st.Removed,
		ElapsedMS:       st.Elapsed.Milliseconds(),
	}
}

func filesOrEmpty(r *report.Report) []report.File {
	if r == nil || r.Files == nil {
		return []report.File{}
	}
	return r.Files
}
