package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	SetClient(c)
	t.Cleanup(func() {
		_ = c.Close()
		SetClient(nil)
	})
	return mr
}

type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestAside(t *testing.T) {
	withMiniRedis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *profile) func() error {
		return func() error {
			calls++
			*dest = profile{ID: "u1", Name: "Ada"}
			return nil
		}
	}

	var first profile
	require.NoError(t, Aside(ctx, UserKey("u1"), &first, UserTTL, fetch(&first)))
	var second profile
	require.NoError(t, Aside(ctx, UserKey("u1"), &second, UserTTL, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	InvalidateUser(ctx, "u1")
	var third profile
	require.NoError(t, Aside(ctx, UserKey("u1"), &third, UserTTL, fetch(&third)))
	assert.Equal(t, 2, calls)
}

func TestAside_FetchError(t *testing.T) {
	withMiniRedis(t)
	var dest profile
	err := Aside(context.Background(), "k", &dest, time.Minute, func() error { return errors.New("db down") })
	assert.EqualError(t, err, "db down")
}

func TestAside_NoRedis(t *testing.T) {
	SetClient(nil)
	var dest profile
	calls := 0
	for i := 0; i < 2; i++ {
		require.NoError(t, Aside(context.Background(), "k", &dest, time.Minute, func() error {
			calls++
			return nil
		}))
	}
	assert.Equal(t, 2, calls)
}

func TestRevocation(t *testing.T) {
	mr := withMiniRedis(t)
	ctx := context.Background()

	revoked, err := IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, MarkRevoked(ctx, "jti-1", time.Hour))
	revoked, err = IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestNewClient_ParsesURL(t *testing.T) {
	c, err := NewClient("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	opts := c.Options()
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	_, err = NewClient("redis://%zz")
	assert.Error(t, err)
}
