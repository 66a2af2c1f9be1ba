package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", []byte(`"one"`)))
	require.NoError(t, s.Set(ctx, "b", []byte(`"two"`)))
	require.NoError(t, s.Delete(ctx, "b"))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`"one"`), v)

	_, ok, err = reopened.Get(ctx, "b")
	require.NoError(t, err)
	require.False(t, ok)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestOpen_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	s, err := Open(path)
	require.NoError(t, err)
	_, ok, _ := s.Get(context.Background(), "x")
	require.False(t, ok)
}

func TestDelete_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", []byte("1")))
	require.NoError(t, s.Delete(ctx, "k", "missing"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSetMany_SingleFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))

	reopened, err := Open(path)
	require.NoError(t, err)
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		v, ok, err := reopened.Get(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, k)
		require.Equal(t, []byte(want), v)
	}
}

func TestSetMany_FailedFlushKeepsPreviousValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "a", []byte("old")))

	// a directory in place of the file makes the rename fail
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o700))

	err = s.SetMany(ctx, map[string][]byte{"a": []byte("new"), "b": []byte("2")})
	require.Error(t, err)

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("old"), v)
	_, ok, err = s.Get(ctx, "b")
	require.NoError(t, err)
	require.False(t, ok)
}
