package gitutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, contents, 0o644))
	}
	return dir
}

func TestSearchTree(t *testing.T) {
	dir := writeTree(t, map[string][]byte{
		"main.go":          []byte("package main\n\nfunc main() {\n\tconnect()\n}\n"),
		"pkg/conn.go":      []byte("package pkg\n\n// connect dials the server.\nfunc connect() {}\n\nfunc reconnect() { connect() }\n"),
		".git/config":      []byte("connect should never match inside .git"),
		"assets/logo.bin":  {0x00, 0x01, 0x02, 'c', 'o', 'n', 'n', 'e', 'c', 't'},
		"docs/usage.md":    []byte("Run the binary to CONNECT to the daemon.\n"),
		"pkg/conn_test.go": []byte("package pkg\n"),
	})

	hits, err := searchTree(dir, "connect", 50)
	require.NoError(t, err)

	paths := make(map[string]int)
	for _, h := range hits {
		paths[h.Path]++
		assert.Positive(t, h.Line)
		assert.NotEmpty(t, h.Snippet)
	}

	assert.Equal(t, 3, paths["pkg/conn.go"], "every matching line is reported")
	assert.Equal(t, 1, paths["main.go"])
	assert.Equal(t, 1, paths["docs/usage.md"], "matching is case-insensitive")
	assert.Zero(t, paths[".git/config"], "the .git directory is skipped")
	assert.Zero(t, paths["assets/logo.bin"], "binary files are skipped")

	// Ranking: the file with the most matches leads.
	assert.Equal(t, "pkg/conn.go", hits[0].Path)
}

func TestSearchTreeLimit(t *testing.T) {
	dir := writeTree(t, map[string][]byte{
		"a.txt": []byte("x\nx\nx\nx\nx\n"),
	})
	hits, err := searchTree(dir, "x", 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestSearchTreeNoMatches(t *testing.T) {
	dir := writeTree(t, map[string][]byte{"a.txt": []byte("nothing here\n")})
	hits, err := searchTree(dir, "absent-token", 50)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
