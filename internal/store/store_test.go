package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/store"
)

func TestPutGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := store.New(filepath.Join(dir, "node_data.json"), nil)
	require.NoError(t, s.Load())

	s.Put("foo", "1")
	v, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	assert.True(t, s.Remove("foo"))
	_, ok = s.Get("foo")
	assert.False(t, ok)
	assert.False(t, s.Remove("foo"))
}

func TestLoadRecoversFromMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_data.json")
	s := store.New(path, nil)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
	assert.FileExists(t, path)
}

func TestLoadRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_data.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	s := store.New(path, nil)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_data.json")
	s := store.New(path, nil)
	require.NoError(t, s.Load())
	s.Put("a", "1")
	s.Put("b", "2")

	s2 := store.New(path, nil)
	require.NoError(t, s2.Load())

	v, ok := s2.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	v, ok = s2.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}
