package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/config"
	"github.com/DeusData/errsel/internal/extract"
	"github.com/DeusData/errsel/internal/report"
	"github.com/DeusData/errsel/internal/selector"
	"github.com/DeusData/errsel/internal/store"
)

// param builds a VariableDeclaration; an empty type leaves out typeDescriptions.
func param(typ string) map[string]any {
	p := map[string]any{"nodeType": "VariableDeclaration", "name": "v"}
	if typ != "" {
		p["typeDescriptions"] = map[string]any{"typeString": typ, "typeIdentifier": "t_" + typ}
	}
	return p
}

func errorDef(name string, params ...map[string]any) map[string]any {
	list := make([]any, 0, len(params))
	for _, p := range params {
		list = append(list, p)
	}
	return map[string]any{
		"nodeType":   "ErrorDefinition",
		"name":       name,
		"parameters": map[string]any{"nodeType": "ParameterList", "parameters": list},
	}
}

func sourceUnit(defs ...map[string]any) map[string]any {
	nodes := make([]any, 0, len(defs))
	for _, d := range defs {
		nodes = append(nodes, d)
	}
	return map[string]any{
		"abi": []any{},
		"ast": map[string]any{
			"nodeType": "SourceUnit",
			"nodes": []any{
				map[string]any{"nodeType": "PragmaDirective", "literals": []any{"solidity", "^", "0.8"}},
				map[string]any{"nodeType": "ContractDefinition", "name": "C", "nodes": nodes},
			},
		},
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	writeRaw(t, path, string(data))
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func logCtx(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return slogctx.NewCtx(context.Background(), logger), &buf
}

func markdown(t *testing.T, r *report.Report) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, report.WriteMarkdown(&buf, r))
	return buf.String()
}

func displayPath(dir, rel string) string {
	return filepath.ToSlash(filepath.Join(dir, rel))
}

func TestRunUnauthorized(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Vault.sol", "Vault.json"), sourceUnit(errorDef("Unauthorized")))

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, res.Report.Files, 1)

	f := res.Report.Files[0]
	assert.Equal(t, displayPath(out, "Vault.sol/Vault.json"), f.Path)
	require.Len(t, f.Entries, 1)
	assert.Equal(t, "Unauthorized()", f.Entries[0].Signature)
	assert.Equal(t, "0x82b42900", f.Entries[0].Selector.String())
}

func TestRunInsufficientBalance(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Token.sol", "Token.json"),
		sourceUnit(errorDef("InsufficientBalance", param("uint256"), param("address"))))

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	e := res.Report.Files[0].Entries[0]
	assert.Equal(t, "InsufficientBalance(uint256,address)", e.Signature)
	assert.Equal(t, "0xcaadeb20", e.Selector.String())
}

func TestRunNoArtifacts(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{}).Run(context.Background(), dir)
	assert.True(t, errors.Is(err, ErrNoArtifacts))

	writeRaw(t, filepath.Join(dir, "build-info", "x.json"), `{"input": {}}`)
	writeRaw(t, filepath.Join(dir, "notes.txt"), `hello`)
	_, err = New(Options{}).Run(context.Background(), dir)
	assert.True(t, errors.Is(err, ErrNoArtifacts))
}

func TestRunMissingDir(t *testing.T) {
	_, err := New(Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoArtifacts))
}

func TestRunOmitsArtifactsWithoutErrors(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Math.sol", "Math.json"), sourceUnit())
	writeJSON(t, filepath.Join(out, "Vault.sol", "Vault.json"), sourceUnit(errorDef("Paused")))

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Artifacts)
	require.Len(t, res.Report.Files, 1)
	assert.Equal(t, displayPath(out, "Vault.sol/Vault.json"), res.Report.Files[0].Path)
}

func TestRunOnlyEmptyArtifacts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Math.sol", "Math.json"), sourceUnit())

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, res.Report.Empty())
	assert.Contains(t, markdown(t, res.Report), report.NoneMessage)
}

func TestRunIsolatesParseFailures(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeRaw(t, filepath.Join(out, "Broken.sol", "Broken.json"), `{"ast": {"nodeType": `)
	writeJSON(t, filepath.Join(out, "Vault.sol", "Vault.json"), sourceUnit(errorDef("Unauthorized")))

	ctx, logs := logCtx(t)
	res, err := New(Options{}).Run(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.ParseErrors)
	assert.Equal(t, 1, res.Stats.Artifacts)
	require.Len(t, res.Report.Files, 1)
	assert.Contains(t, logs.String(), "artifact.parse.err")
	assert.Contains(t, logs.String(), "Broken.json")
}

func TestRunAllFilesBroken(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeRaw(t, filepath.Join(out, "A.json"), `{`)

	_, err := New(Options{}).Run(context.Background(), out)
	assert.True(t, errors.Is(err, ErrNoArtifacts))
}

func TestRunMissingTypeFails(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Vault.sol", "Vault.json"), sourceUnit(
		errorDef("InsufficientBalance", param("uint256"), param("")),
		errorDef("Unauthorized"),
	))

	ctx, logs := logCtx(t)
	res, err := New(Options{}).Run(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.SignatureErrors)
	require.Len(t, res.Report.Files[0].Entries, 1)
	assert.Equal(t, "Unauthorized()", res.Report.Files[0].Entries[0].Signature)
	assert.Contains(t, logs.String(), "signature.err")
	assert.Contains(t, logs.String(), "InsufficientBalance(uint256,?)")
	assert.Contains(t, logs.String(), "Vault.json")
}

func TestRunMissingTypePlaceholder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "Vault.sol", "Vault.json"), sourceUnit(
		errorDef("InsufficientBalance", param("uint256"), param("")),
	))

	res, err := New(Options{MissingType: extract.MissingTypePlaceholder}).Run(context.Background(), out)
	require.NoError(t, err)
	e := res.Report.Files[0].Entries[0]
	assert.Equal(t, "InsufficientBalance(uint256,?)", e.Signature)
	assert.Equal(t, "0x5a035e86", e.Selector.String())
}

func TestRunKeepsDiscoveryOrder(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	var want []string
	for i := range 24 {
		rel := fmt.Sprintf("C%02d.sol/C%02d.json", i, i)
		writeJSON(t, filepath.Join(out, rel), sourceUnit(errorDef(fmt.Sprintf("E%02d", i))))
		want = append(want, displayPath(out, rel))
	}

	res, err := New(Options{Workers: 8}).Run(context.Background(), out)
	require.NoError(t, err)
	var got []string
	for _, f := range res.Report.Files {
		got = append(got, f.Path)
	}
	assert.Equal(t, want, got)
}

func TestRunIdempotent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("Unauthorized"), errorDef("Paused")))
	writeJSON(t, filepath.Join(out, "B.sol", "B.json"), sourceUnit(errorDef("Expired", param("uint64"))))

	first, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	second, err := New(Options{Workers: 1}).Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, markdown(t, first.Report), markdown(t, second.Report))
}

func TestRunDedupesWithinArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("Paused"), errorDef("Unauthorized"), errorDef("Paused")))
	writeJSON(t, filepath.Join(out, "B.sol", "B.json"), sourceUnit(errorDef("Paused")))

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, res.Report.Files, 2)
	assert.Len(t, res.Report.Files[0].Entries, 2)
	assert.Len(t, res.Report.Files[1].Entries, 1)
}

func TestRunCancelled(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("Unauthorized")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Run(ctx, out)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunIncremental(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	root := t.TempDir()
	out := filepath.Join(root, "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("Unauthorized")))
	writeJSON(t, filepath.Join(out, "B.sol", "B.json"), sourceUnit(errorDef("Paused")))
	writeJSON(t, filepath.Join(out, "C.sol", "C.json"), sourceUnit())

	p := New(Options{Store: s, Project: "vault"})
	first, err := p.Run(context.Background(), out)
	require.NoError(t, err)
	assert.Zero(t, first.Stats.Cached)
	assert.Equal(t, "vault", first.Project)

	second, err := p.Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Stats.Cached)
	assert.Equal(t, 3, second.Stats.Artifacts)
	assert.Equal(t, markdown(t, first.Report), markdown(t, second.Report))

	writeJSON(t, filepath.Join(out, "B.sol", "B.json"), sourceUnit(errorDef("Expired", param("uint64"))))
	require.NoError(t, os.RemoveAll(filepath.Join(out, "A.sol")))

	third, err := p.Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Stats.Cached)
	assert.Equal(t, 1, third.Stats.Removed)
	require.Len(t, third.Report.Files, 1)
	assert.Equal(t, "Expired(uint64)", third.Report.Files[0].Entries[0].Signature)

	sel, err := selector.Derive("Unauthorized()")
	require.NoError(t, err)
	matches, err := s.LookupSelector(sel)
	require.NoError(t, err)
	assert.Empty(t, matches)

	sel, err = selector.Derive("Expired(uint64)")
	require.NoError(t, err)
	matches, err = s.LookupSelector(sel)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "vault", matches[0].Project)
	assert.Equal(t, "B.sol/B.json", matches[0].RelPath)
}

func TestRunIncrementalPolicyChange(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("X", param("uint256"), param(""))))

	_, err = New(Options{Store: s, Project: "p"}).Run(context.Background(), out)
	require.NoError(t, err)

	res, err := New(Options{Store: s, Project: "p", MissingType: extract.MissingTypePlaceholder}).Run(context.Background(), out)
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Cached)
	assert.Equal(t, "X(uint256,?)", res.Report.Files[0].Entries[0].Signature)
}

func TestRunIncrementalRepeatsSignatureFailures(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(
		errorDef("Ok"),
		errorDef("X", param("uint256"), param("")),
	))
	p := New(Options{Store: s, Project: "p"})

	for run := 1; run <= 2; run++ {
		ctx, logs := logCtx(t)
		res, err := p.Run(ctx, out)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Stats.SignatureErrors, "run %d", run)
		assert.Zero(t, res.Stats.Cached, "run %d", run)
		assert.Contains(t, logs.String(), "signature.err", "run %d", run)
		require.Len(t, res.Report.Files, 1)
		assert.Equal(t, "Ok()", res.Report.Files[0].Entries[0].Signature)
	}

	sel, err := selector.Derive("Ok()")
	require.NoError(t, err)
	matches, err := s.LookupSelector(sel)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunIncrementalAllArtifactsRemoved(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	out := filepath.Join(t.TempDir(), "out")
	writeJSON(t, filepath.Join(out, "A.sol", "A.json"), sourceUnit(errorDef("Unauthorized")))
	p := New(Options{Store: s, Project: "p"})
	_, err = p.Run(context.Background(), out)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(out, "A.sol")))
	_, err = p.Run(context.Background(), out)
	assert.True(t, errors.Is(err, ErrNoArtifacts))

	sel, err := selector.Derive("Unauthorized()")
	require.NoError(t, err)
	matches, err := s.LookupSelector(sel)
	require.NoError(t, err)
	assert.Empty(t, matches)
	hashes, err := s.GetArtifactHashes("p")
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestRunIncrementalEmptyDirLeavesNoProject(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = New(Options{Store: s, Project: "p"}).Run(context.Background(), t.TempDir())
	assert.True(t, errors.Is(err, ErrNoArtifacts))
	_, err = s.GetProject("p")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestRunNonObjectASTCounts(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	writeRaw(t, filepath.Join(out, "Lib.sol", "Lib.json"), `{"abi": [], "ast": null}`)

	res, err := New(Options{}).Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Artifacts)
	assert.Equal(t, "# Custom Error Selectors\n\n"+report.NoneMessage+"\n", markdown(t, res.Report))
}

func TestProjectNameFromPath(t *testing.T) {
	assert.Equal(t, "home-dev-vault", ProjectNameFromPath("/home/dev/vault"))
	assert.Equal(t, "root", ProjectNameFromPath("/"))
}

func TestOptionsFromConfig(t *testing.T) {
	workers := 2
	policy := "placeholder"
	lenient := true
	out := "artifacts"
	cfg := &config.Config{
		OutDir:  &out,
		Workers: &workers,
		Ignore:  []string{"Mock*.sol"},
		Extract: config.ExtractConfig{MissingType: &policy, LenientJSON: &lenient},
	}
	root := t.TempDir()

	opts := OptionsFromConfig(cfg, root)
	assert.Equal(t, 2, opts.Workers)
	assert.Equal(t, extract.MissingTypePlaceholder, opts.MissingType)
	assert.True(t, opts.Lenient)
	assert.Equal(t, root, opts.RootPath)
	require.NotNil(t, opts.Discover)
	assert.Equal(t, []string{"Mock*.sol"}, opts.Discover.Ignore)
	assert.Equal(t, filepath.Join(root, "artifacts"), OutDir(cfg, root))

	abs := filepath.Join(root, "elsewhere")
	cfg.OutDir = &abs
	assert.Equal(t, abs, OutDir(cfg, root))
	assert.Equal(t, "out", OutDir(config.DefaultConfig(), ""))
}
