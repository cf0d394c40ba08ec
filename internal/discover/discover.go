package discover

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// IgnoreFileName is the per-directory ignore file read when Options.IgnoreFile is empty.
const IgnoreFileName = ".errselignore"

// IGNORE_PATTERNS are directory names to skip during discovery.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".git": true, ".hg": true, ".idea": true,
	".svn": true, ".vscode": true, "node_modules": true,
}

// IGNORE_SUFFIXES are file suffixes to skip.
var IGNORE_SUFFIXES = map[string]bool{
	".tmp": true, "~": true, ".swp": true,
}

// ignoredJSONFiles are JSON files that build tools write next to artifacts.
var ignoredJSONFiles = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"tsconfig.json":     true,
	"foundry.lock":      true,
	"remappings.json":   true,
}

// FileInfo represents a discovered file.
type FileInfo struct {
	Path    string // walk root joined with RelPath, slash separated
	AbsPath string // absolute path
	RelPath string // relative to the walk root
	Size    int64
}

// Options configures file discovery.
type Options struct {
	// Extensions lists the accepted file extensions including the dot.
	// Empty means ".json".
	Extensions []string
	// IgnoreFile is a file of extra glob patterns. Empty means <root>/.errselignore.
	IgnoreFile string
	// Ignore holds extra glob patterns matched against names and relative paths.
	Ignore []string
}

func (o *Options) extensions() []string {
	if o == nil || len(o.Extensions) == 0 {
		return []string{".json"}
	}
	return o.Extensions
}

// shouldSkipDir returns true if the directory should be skipped during discovery.
func shouldSkipDir(name, rel string, extraIgnore []string) bool {
	if IGNORE_PATTERNS[name] {
		return true
	}
	return matchesAny(name, rel, extraIgnore)
}

func matchesAny(name, rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Discover walks root in lexical order and returns the files whose
// extension is accepted by opts.
func Discover(ctx context.Context, root string, opts *Options) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, errors.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", root)
	}

	var extraIgnore []string
	if opts != nil {
		extraIgnore = append(extraIgnore, opts.Ignore...)
	}
	ignPath := filepath.Join(absRoot, IgnoreFileName)
	if opts != nil && opts.IgnoreFile != "" {
		ignPath = opts.IgnoreFile
	}
	if patterns, err := loadIgnoreFile(ignPath); err == nil {
		extraIgnore = append(extraIgnore, patterns...)
	}

	exts := opts.extensions()
	var files []FileInfo

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(absRoot, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && shouldSkipDir(d.Name(), rel, extraIgnore) {
				return filepath.SkipDir
			}
			return nil
		}

		for suffix := range IGNORE_SUFFIXES {
			if strings.HasSuffix(path, suffix) {
				return nil
			}
		}
		if !slices.Contains(exts, filepath.Ext(path)) {
			return nil
		}
		if ignoredJSONFiles[d.Name()] || matchesAny(d.Name(), rel, extraIgnore) {
			return nil
		}

		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		}
		files = append(files, FileInfo{
			Path:    filepath.ToSlash(filepath.Join(root, rel)),
			AbsPath: path,
			RelPath: rel,
			Size:    size,
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return files, nil
}

func loadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	return patterns, scanner.Err()
}
