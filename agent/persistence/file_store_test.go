package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, dir string) *FileStateStore {
	s, err := NewFileStateStore(StoreConfig{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFileStateStore(t *testing.T) {
	runStateStoreSuite(t, func(t *testing.T) StateStore {
		return newFileStore(t, t.TempDir())
	})
}

func TestFileStateStore_Reload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newFileStore(t, dir)
	_, err := s.PutThread(ctx, record("thread/with:odd chars", ThreadStatusInterrupted, `{"node":"action_review"}`), 0)
	require.NoError(t, err)
	require.NoError(t, s.PutMemory(ctx, "triage_preferences", "- ignore spam"))
	_, err = s.PutThread(ctx, record("gone", ThreadStatusCompleted, `{}`), 0)
	require.NoError(t, err)
	require.NoError(t, s.DeleteThread(ctx, "gone"))

	reopened := newFileStore(t, dir)
	rec, err := reopened.GetThread(ctx, "thread/with:odd chars")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.JSONEq(t, `{"node":"action_review"}`, string(rec.Data))

	content, ok, err := reopened.GetMemory(ctx, "triage_preferences")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "- ignore spam", content)

	_, err = reopened.GetThread(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// 版本在重启后继续递增
	v, err := reopened.PutThread(ctx, record("thread/with:odd chars", ThreadStatusCompleted, `{}`), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestFileStateStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newFileStore(t, dir)

	for i := int64(0); i < 5; i++ {
		_, err := s.PutThread(ctx, record("t", ThreadStatusInterrupted, `{}`), i)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "threads"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, encodeName("t")+".json", entries[0].Name())
}
