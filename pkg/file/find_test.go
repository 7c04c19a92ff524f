package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindByExt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, name := range []string{"a.epub", "b.EPUB", "c.txt", "sub/d.epub"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	found, err := FindByExt(dir, "epub")
	require.NoError(t, err)
	assert.Len(t, found, 3, "matching is case-insensitive and recursive")

	found, err = FindByExt(dir, ".txt")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
