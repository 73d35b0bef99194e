package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"framez/internal/feed"
	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/provider/providertest"
	"framez/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Please fill all fields", describe(models.NewValidationError("Please fill all fields")))
	wrapped := fmt.Errorf("login: %w", models.NewAuthError("Invalid email or password", errors.New("401")))
	assert.Equal(t, "Invalid email or password", describe(wrapped))
	assert.Equal(t, "Error: boom", describe(errors.New("boom")))
	assert.Equal(t, "Error: Internal server error: db down", describe(models.NewInternalError(errors.New("db down"))))
}

func TestRenderViews(t *testing.T) {
	now := time.Now()
	img := "https://cdn.example.com/media/posts/u1/1.jpg"
	posts := []*models.Post{
		{
			ID: "p2", UserID: "u1", UserName: "Ada", Caption: "Sunset", ImageURL: &img,
			CreatedAt: now.Add(-3 * time.Hour), Likes: []string{"u2", "u1"},
			Comments: []models.Comment{{UserName: "Bob", Text: "Wow"}},
		},
		{ID: "p1", UserID: "u2", UserName: "Bob", Caption: "Hello", CreatedAt: now},
	}

	var out bytes.Buffer
	renderViews(&out, feed.BuildViews(posts, "u1", nil, now))

	got := out.String()
	assert.Contains(t, got, "p2  Ada (you) · 3h ago")
	assert.Contains(t, got, "[image] "+img)
	assert.Contains(t, got, "2 likes, including you · 1 comments")
	assert.Contains(t, got, "    Bob: Wow")
	assert.Contains(t, got, "p1  Bob · Just now")
	assert.Contains(t, got, "0 likes · 0 comments")

	out.Reset()
	renderViews(&out, nil)
	assert.Equal(t, "No posts yet\n", out.String())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchFeedEndsWithStream(t *testing.T) {
	idp := providertest.NewIdentity()
	t.Cleanup(idp.Close)
	docs := providertest.NewDocuments(idp)
	store := session.New(idp, kv.NewMemory(), nil)
	t.Cleanup(store.Close)
	idp.Resolve(nil)

	facade := feed.NewFacade(docs, store)
	t.Cleanup(facade.Close)
	c := &client{session: store, repo: feed.NewRepository(docs), facade: facade}

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- watchFeed(context.Background(), &out, c, "") }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "No posts yet")
	}, time.Second, 5*time.Millisecond)

	docs.Disconnect()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed by the server")
	case <-time.After(time.Second):
		t.Fatal("watch kept running after the stream ended")
	}
}
