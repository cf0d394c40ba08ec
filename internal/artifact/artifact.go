// Package artifact loads compiled-module JSON files and exposes their
// syntax tree roots.
package artifact

import (
	"context"
	"os"
	"strconv"

	"github.com/tidwall/jsonc"
	slogctx "github.com/veqryn/slog-context"
	"github.com/zeebo/xxh3"
	"gitlab.com/tozd/go/errors"

	"github.com/DeusData/errsel/internal/ast"
	"github.com/DeusData/errsel/internal/discover"
)

// ASTField is the top-level field holding the syntax tree.
const ASTField = "ast"

// ErrNoAST is returned by Parse for documents without an "ast" mapping.
var ErrNoAST = errors.Base("no ast field")

// Artifact is one compiled module and its syntax tree.
type Artifact struct {
	Path    string
	RelPath string
	Hash    string
	Root    *ast.Mapping
}

// Options configures parsing.
type Options struct {
	// Lenient accepts comments and trailing commas.
	Lenient bool
	// Discover is passed through to discover.Discover by LoadDir.
	Discover *discover.Options
}

// Hash returns the content hash stored alongside indexed artifacts.
func Hash(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

// Parse decodes data and returns the artifact rooted at its "ast" field.
// It returns ErrNoAST when the document is not an object or has no "ast"
// key. A non-object "ast" value yields an empty root.
func Parse(path string, data []byte, opts Options) (*Artifact, error) {
	if opts.Lenient {
		data = jsonc.ToJSON(data)
	}
	doc, err := ast.Decode(data)
	if err != nil {
		return nil, errors.Errorf("parse %s: %w", path, err)
	}
	top, ok := doc.(*ast.Mapping)
	if !ok {
		return nil, errors.WithStack(ErrNoAST)
	}
	field, ok := top.Get(ASTField)
	if !ok {
		return nil, errors.WithStack(ErrNoAST)
	}
	// A present but non-object tree still counts as an artifact; it just
	// declares nothing.
	root, ok := field.(*ast.Mapping)
	if !ok {
		root = ast.NewMapping()
	}
	return &Artifact{Path: path, Root: root}, nil
}

// Read loads one discovered file.
func Read(f discover.FileInfo, opts Options) (*Artifact, error) {
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, errors.Errorf("read %s: %w", f.Path, err)
	}
	a, err := Parse(f.Path, data, opts)
	if err != nil {
		return nil, err
	}
	a.RelPath = f.RelPath
	a.Hash = Hash(data)
	return a, nil
}

// LoadDir reads every artifact under dir in traversal order. Files that do
// not parse are logged and skipped; files without an "ast" field are left
// out without a diagnostic.
func LoadDir(ctx context.Context, dir string, opts Options) ([]*Artifact, error) {
	files, err := discover.Discover(ctx, dir, opts.Discover)
	if err != nil {
		return nil, errors.Errorf("discover: %w", err)
	}

	var out []*Artifact
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		a, err := Read(f, opts)
		if errors.Is(err, ErrNoAST) {
			continue
		}
		if err != nil {
			slogctx.Warn(ctx, "artifact.parse.err", "path", f.Path, "err", err)
			continue
		}
		out = append(out, a)
	}
	slogctx.Debug(ctx, "artifact.loaded", "dir", dir, "files", len(files), "artifacts", len(out))
	return out, nil
}
