package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"framez/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "@framez_user_persist", `{"uid":"u1"}`))
	v, ok, err := s.Get(ctx, "@framez_user_persist")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"uid":"u1"}`, v)

	require.NoError(t, s.Set(ctx, "@framez_user_persist", "second"))
	v, _, _ = s.Get(ctx, "@framez_user_persist")
	assert.Equal(t, "second", v)

	require.NoError(t, s.Remove(ctx, "@framez_user_persist"))
	_, ok, err = s.Get(ctx, "@framez_user_persist")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent key is not an error.
	require.NoError(t, s.Remove(ctx, "@framez_user_persist"))
}

func TestMemory(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	f, err := OpenFile(path)
	require.NoError(t, err)
	storeContract(t, f)
}

func TestFilePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	ctx := context.Background()

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "@framez_auth_token", "tok"))
	require.NoError(t, f.Set(ctx, "other", "x: y"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "@framez_auth_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)
	v, _, _ = reopened.Get(ctx, "other")
	assert.Equal(t, "x: y", v)
}

func TestFileRejectsCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o600))
	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := cache.NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedis(rdb, "framez:kv:", time.Hour)
	storeContract(t, s)

	require.NoError(t, s.Set(context.Background(), "k", "v"))
	assert.True(t, mr.Exists("framez:kv:k"))
	assert.Equal(t, time.Hour, mr.TTL("framez:kv:k"))
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := cache.NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, _, err = NewRedis(rdb, "", 0).Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	type record struct {
		UID string `json:"uid"`
	}

	var got record
	ok, err := GetJSON(ctx, s, "r", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, s, "r", record{UID: "u1"}))
	ok, err = GetJSON(ctx, s, "r", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", got.UID)

	require.NoError(t, s.Set(ctx, "bad", "{"))
	_, err = GetJSON(ctx, s, "bad", &got)
	assert.Error(t, err)
}
