package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirBackend(t *testing.T) {
	_, err := NewDirBackend("")
	assert.Error(t, err)

	root := filepath.Join(t.TempDir(), "nested", "mount")
	b, err := NewDirBackend(root)
	require.NoError(t, err)
	require.NotNil(t, b)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDirBackend_Upload(t *testing.T) {
	root := t.TempDir()
	b, err := NewDirBackend(root)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, b.Upload(context.Background(), src, filepath.Join("a", "b", "dst.bin")))

	data, err := os.ReadFile(filepath.Join(root, "a", "b", "dst.bin"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "a", "b"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no .part leftovers after a finished upload")
}

func TestDirBackend_UploadMissingSource(t *testing.T) {
	b, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)

	err = b.Upload(context.Background(), "/nonexistent/file", "dst.bin")
	assert.Error(t, err)
}

func TestDirBackend_CancelledContext(t *testing.T) {
	b, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Upload(ctx, "x", "y"))
	assert.Error(t, b.CreateDirectory(ctx, "d"))
	_, err = b.List(ctx, ".")
	assert.Error(t, err)
}

func TestDirBackend_CreateDirectoryAndList(t *testing.T) {
	root := t.TempDir()
	b, err := NewDirBackend(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.CreateDirectory(ctx, "captures"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "captures", "a.bin"), []byte("x"), 0o644))
	require.NoError(t, b.CreateDirectory(ctx, filepath.Join("captures", "sub")))

	names, err := b.List(ctx, "captures")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.bin", "sub"}, names)

	_, err = b.List(ctx, "missing")
	assert.Error(t, err)
}
