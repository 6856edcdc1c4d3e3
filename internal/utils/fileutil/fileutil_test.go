package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netxpf.yaml")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0640))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	// No temporary files are left behind
	// 不应残留临时文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFile_MissingDir(t *testing.T) {
	err := AtomicWriteFile(filepath.Join(t.TempDir(), "nope", "f"), []byte("x"), 0600)
	assert.Error(t, err)
}
