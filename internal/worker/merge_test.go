package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestConcatFilesPreservesInputOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.webm", []byte("AAAA"))
	b := writeFile(t, dir, "b.webm", []byte("BB"))
	c := writeFile(t, dir, "c.webm", []byte("CCCCCC"))

	out := filepath.Join(dir, "merged.webm")
	require.NoError(t, concatFiles([]string{a, b, c}, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAABBCCCCCC"), got)
}

func TestConcatFilesMissingInput(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.webm", []byte("AAAA"))
	missing := filepath.Join(dir, "nope.webm")

	err := concatFiles([]string{a, missing}, filepath.Join(dir, "merged.webm"))
	assert.Error(t, err)
}
