package remote_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"framez/internal/blob"
	"framez/internal/config"
	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/provider"
	"framez/internal/provider/remote"
	"framez/internal/server"
	"framez/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startAPI serves a full Framez API on a random local port.
func startAPI(t *testing.T) string {
	t.Helper()
	store, err := blob.NewLocalStorage(t.TempDir(), "media")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	cfg := &config.Config{
		Env:           "test",
		JWTSecret:     "remote-test-secret-long-enough-for-hs256",
		PublicBaseURL: base,
		MaxUploadMB:   2,
	}
	srv, err := server.NewServerWithDeps(cfg, server.Deps{DB: testutil.NewDB(t), Store: store})
	require.NoError(t, err)
	app := srv.App()
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return base
}

type events struct {
	mu   sync.Mutex
	list []*provider.User
}

func (e *events) add(u *provider.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, u)
}

func (e *events) last() (*provider.User, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.list) == 0 {
		return nil, 0
	}
	return e.list[len(e.list)-1], len(e.list)
}

func newClient(t *testing.T, base string, store kv.Store) (*remote.Client, *events) {
	t.Helper()
	c, err := remote.New(base, store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ev := &events{}
	c.OnStateChange(ev.add)
	return c, ev
}

func waitEvents(t *testing.T, ev *events, n int) *provider.User {
	t.Helper()
	require.Eventually(t, func() bool {
		_, got := ev.last()
		return got >= n
	}, 5*time.Second, 10*time.Millisecond)
	u, _ := ev.last()
	return u
}

func nextSnapshot(t *testing.T, q provider.LiveQuery) provider.Snapshot {
	t.Helper()
	select {
	case s, ok := <-q.Snapshots():
		require.True(t, ok, "live query closed")
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return provider.Snapshot{}
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := remote.New("ftp://example.com", kv.NewMemory())
	assert.Error(t, err)
	_, err = remote.New("://", kv.NewMemory())
	assert.Error(t, err)
}

func TestIdentityLifecycle(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	store := kv.NewMemory()
	c, ev := newClient(t, base, store)

	// No saved token: the first authoritative event is signed out.
	assert.Nil(t, waitEvents(t, ev, 1))

	user, err := c.CreateAccount(ctx, "ada@example.com", "Password123")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.EmailOrEmpty())
	assert.Equal(t, user.UID, waitEvents(t, ev, 2).UID)

	token, ok, err := store.Get(ctx, remote.TokenKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	updated, err := c.UpdateProfile(ctx, user, provider.ProfileUpdate{DisplayName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.Name())
	assert.Equal(t, "Ada", waitEvents(t, ev, 3).Name())

	_, err = c.CreateAccount(ctx, "ada@example.com", "Password123")
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeAuth))

	require.NoError(t, c.SignOut(ctx))
	assert.Nil(t, waitEvents(t, ev, 4))
	_, ok, _ = store.Get(ctx, remote.TokenKey)
	assert.False(t, ok)

	_, err = c.SignIn(ctx, "ada@example.com", "wrong-password")
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeAuth))

	again, err := c.SignIn(ctx, "ADA@example.com", "Password123")
	require.NoError(t, err)
	assert.Equal(t, user.UID, again.UID)
	assert.Equal(t, user.UID, waitEvents(t, ev, 5).UID)
}

func TestRestoreFromSavedToken(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	store := kv.NewMemory()

	first, ev := newClient(t, base, store)
	waitEvents(t, ev, 1)
	user, err := first.CreateAccount(ctx, "warm@example.com", "Password123")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	_, ev2 := newClient(t, base, store)
	restored := waitEvents(t, ev2, 1)
	require.NotNil(t, restored)
	assert.Equal(t, user.UID, restored.UID)
}

func TestRestoreDropsInvalidToken(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, remote.TokenKey, "not-a-jwt"))

	_, ev := newClient(t, base, store)
	assert.Nil(t, waitEvents(t, ev, 1))
	_, ok, _ := store.Get(ctx, remote.TokenKey)
	assert.False(t, ok)
}

func TestRestoreKeepsTokenWhenOffline(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, remote.TokenKey, "saved"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, ev := newClient(t, "http://"+addr, store)
	assert.Nil(t, waitEvents(t, ev, 1))
	v, ok, _ := store.Get(ctx, remote.TokenKey)
	assert.True(t, ok)
	assert.Equal(t, "saved", v)
}

func TestDocumentsAndLiveQuery(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()

	alice, aev := newClient(t, base, kv.NewMemory())
	waitEvents(t, aev, 1)
	aliceUser, err := alice.CreateAccount(ctx, "alice@example.com", "Password123")
	require.NoError(t, err)

	bob, bev := newClient(t, base, kv.NewMemory())
	waitEvents(t, bev, 1)
	bobUser, err := bob.CreateAccount(ctx, "bob@example.com", "Password123")
	require.NoError(t, err)

	q, err := alice.LiveQuery(ctx, models.PostsCollection, provider.Filter{}, provider.NewestFirst)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()
	assert.Empty(t, nextSnapshot(t, q).Posts)

	post, err := alice.Insert(ctx, models.PostsCollection, &models.Post{Caption: "hello"})
	require.NoError(t, err)
	assert.Equal(t, aliceUser.UID, post.UserID)
	assert.NotNil(t, post.Likes)

	snap := nextSnapshot(t, q)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Posts, 1)
	assert.Equal(t, "hello", snap.Posts[0].Caption)

	require.NoError(t, bob.Update(ctx, models.PostsCollection, post.ID, provider.Patch{AddLike: bobUser.UID}))
	snap = nextSnapshot(t, q)
	assert.Equal(t, []string{bobUser.UID}, snap.Posts[0].Likes)

	require.NoError(t, bob.Update(ctx, models.PostsCollection, post.ID, provider.Patch{AppendComment: &models.Comment{Text: "nice"}}))
	snap = nextSnapshot(t, q)
	require.Len(t, snap.Posts[0].Comments, 1)
	assert.Equal(t, "nice", snap.Posts[0].Comments[0].Text)

	caption := "mine"
	err = bob.Update(ctx, models.PostsCollection, post.ID, provider.Patch{Caption: &caption})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeMutation))

	err = bob.Delete(ctx, models.PostsCollection, post.ID)
	assert.True(t, models.HasCode(err, models.CodeMutation))

	require.NoError(t, alice.Update(ctx, models.PostsCollection, post.ID, provider.Patch{Caption: &caption}))
	snap = nextSnapshot(t, q)
	assert.Equal(t, "mine", snap.Posts[0].Caption)

	require.NoError(t, alice.Delete(ctx, models.PostsCollection, post.ID))
	assert.Empty(t, nextSnapshot(t, q).Posts)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	_, open := <-q.Snapshots()
	assert.False(t, open)
}

func TestDocumentsRequireSignIn(t *testing.T) {
	base := startAPI(t)
	c, ev := newClient(t, base, kv.NewMemory())
	waitEvents(t, ev, 1)

	_, err := c.Insert(context.Background(), models.PostsCollection, &models.Post{Caption: "x"})
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeAuthRequired))

	_, err = c.LiveQuery(context.Background(), models.PostsCollection, provider.Filter{}, provider.NewestFirst)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeAuthRequired))

	_, err = c.Insert(context.Background(), "users", &models.Post{Caption: "x"})
	assert.True(t, models.HasCode(err, models.CodeMutation))
	_, err = c.LiveQuery(context.Background(), models.PostsCollection, provider.Filter{}, provider.OrderBy{Field: "caption"})
	assert.True(t, models.HasCode(err, models.CodeMutation))
}

func TestPutBytes(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	c, ev := newClient(t, base, kv.NewMemory())
	waitEvents(t, ev, 1)

	img := testutil.TinyPNG(t, 64, 48)
	_, err := c.PutBytes(ctx, "posts/nobody/1.png", bytes.NewReader(img), int64(len(img)), nil)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeUpload))

	user, err := c.CreateAccount(ctx, "pics@example.com", "Password123")
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		sent []int64
	)
	url, err := c.PutBytes(ctx, "posts/"+user.UID+"/1700000000000.png", bytes.NewReader(img), int64(len(img)),
		func(n, total int64) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, int64(len(img)), total)
			sent = append(sent, n)
		})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, base+"/media/posts/"+user.UID+"/"), url)
	require.NotEmpty(t, sent)
	assert.Equal(t, int64(len(img)), sent[len(sent)-1])

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Another user's prefix is refused.
	_, err = c.PutBytes(ctx, "posts/someone-else/1.png", bytes.NewReader(img), int64(len(img)), nil)
	assert.True(t, models.HasCode(err, models.CodeUpload))

	_, err = c.PutBytes(ctx, "posts/../etc/passwd", bytes.NewReader(img), int64(len(img)), nil)
	assert.True(t, models.HasCode(err, models.CodeUpload))
}

// slowReader stalls before its first read.
type slowReader struct {
	r     io.Reader
	delay time.Duration
	once  sync.Once
}

func (s *slowReader) Read(p []byte) (int, error) {
	s.once.Do(func() { time.Sleep(s.delay) })
	return s.r.Read(p)
}

func TestPutBytesOutlivesRequestTimeout(t *testing.T) {
	base := startAPI(t)
	ctx := context.Background()
	c, err := remote.New(base, kv.NewMemory(), remote.WithHTTPClient(&http.Client{Timeout: 500 * time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ev := &events{}
	c.OnStateChange(ev.add)
	waitEvents(t, ev, 1)

	user, err := c.CreateAccount(ctx, "slow@example.com", "Password123")
	require.NoError(t, err)

	img := testutil.TinyPNG(t, 64, 48)
	body := &slowReader{r: bytes.NewReader(img), delay: 1500 * time.Millisecond}
	url, err := c.PutBytes(ctx, "posts/"+user.UID+"/1700000000000.png", body, int64(len(img)), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, base+"/media/posts/"+user.UID+"/"), url)

	// The caller's context still bounds the upload.
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	body = &slowReader{r: bytes.NewReader(img), delay: 1500 * time.Millisecond}
	_, err = c.PutBytes(short, "posts/"+user.UID+"/1700000000001.png", body, int64(len(img)), nil)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeUpload))
}
