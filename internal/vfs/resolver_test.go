package vfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLibrary(t *testing.T) *Local {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shows"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "shows", "ep01.mkv"), []byte("x"), 0o644))

	l, err := NewLocal(root)
	require.NoError(t, err)
	return l
}

func TestLocal_Resolve(t *testing.T) {
	l := newTestLibrary(t)

	got, err := l.Resolve(context.Background(), "shows/ep01.mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "shows", "ep01.mkv"), got)
}

func TestLocal_ResolveMissingFile(t *testing.T) {
	l := newTestLibrary(t)

	_, err := l.Resolve(context.Background(), "shows/ep02.mkv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_ResolveDirectory(t *testing.T) {
	l := newTestLibrary(t)

	_, err := l.Resolve(context.Background(), "shows")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocal_ResolveRejectsTraversal(t *testing.T) {
	l := newTestLibrary(t)

	_, err := l.Resolve(context.Background(), "../outside.mkv")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLocal_ResolveRejectsAbsolute(t *testing.T) {
	l := newTestLibrary(t)

	_, err := l.Resolve(context.Background(), "/etc/passwd")
	assert.Error(t, err)
}

func TestNewLocal_MissingRoot(t *testing.T) {
	_, err := NewLocal("/nonexistent/media/root")
	assert.Error(t, err)
}
