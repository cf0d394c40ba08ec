package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func relPaths(files []FileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Token.sol", "Token.json"), `{}`)
	writeFile(t, filepath.Join(dir, "Vault.sol", "Vault.json"), `{}`)
	writeFile(t, filepath.Join(dir, "build-info", "notes.txt"), `x`)

	files, err := Discover(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Token.sol/Token.json", "Vault.sol/Vault.json"}, relPaths(files))

	for _, f := range files {
		assert.NotEmpty(t, f.AbsPath)
		assert.True(t, filepath.IsAbs(f.AbsPath))
		assert.Equal(t, filepath.ToSlash(filepath.Join(dir, f.RelPath)), f.Path)
		assert.Equal(t, int64(2), f.Size)
	}
}

func TestDiscoverPathKeepsGivenRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "out", "A.sol", "A.json"), `{}`)

	t.Chdir(dir)

	files, err := Discover(context.Background(), "out", nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "out/A.sol/A.json", files[0].Path)
}

func TestDiscoverIgnores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.sol", "A.json"), `{}`)
	writeFile(t, filepath.Join(dir, ".git", "config.json"), `{}`)
	writeFile(t, filepath.Join(dir, "node_modules", "x", "x.json"), `{}`)
	writeFile(t, filepath.Join(dir, "package.json"), `{}`)
	writeFile(t, filepath.Join(dir, "A.sol", "A.json~"), `{}`)
	writeFile(t, filepath.Join(dir, "build-info", "abc.json"), `{}`)
	writeFile(t, filepath.Join(dir, "Mock.sol", "Mock.json"), `{}`)
	writeFile(t, filepath.Join(dir, IgnoreFileName), "# comment\nbuild-info\n\nMock.sol\n")

	files, err := Discover(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A.sol/A.json"}, relPaths(files))
}

func TestDiscoverExtraOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Token.sol"), `contract T {}`)
	writeFile(t, filepath.Join(dir, "src", "Token.t.sol"), `contract TT {}`)
	writeFile(t, filepath.Join(dir, "src", "data.json"), `{}`)

	files, err := Discover(context.Background(), dir, &Options{
		Extensions: []string{".sol"},
		Ignore:     []string{"*.t.sol"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/Token.sol"}, relPaths(files))
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.json")
	writeFile(t, file, `{}`)
	_, err = Discover(context.Background(), file, nil)
	assert.Error(t, err)
}

func TestDiscoverCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A.json"), `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, dir, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
