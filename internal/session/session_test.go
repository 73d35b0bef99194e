package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/provider"
	"framez/internal/provider/providertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockKV is a mock of the kv.Store interface
type MockKV struct {
	mock.Mock
}

func (m *MockKV) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockKV) Set(ctx context.Context, key, value string) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockKV) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newStore(t *testing.T, cache kv.Store) (*Store, *providertest.Identity) {
	t.Helper()
	idp := providertest.NewIdentity()
	s := New(idp, cache, nil)
	t.Cleanup(func() {
		s.Close()
		idp.Close()
	})
	return s, idp
}

func waitState(t *testing.T, s *Store, want State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return s.Snapshot().State == want }, 2*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}

func TestStartsInitializing(t *testing.T) {
	cache := kv.NewMemory()
	email := "ada@example.com"
	require.NoError(t, kv.SetJSON(context.Background(), cache, CacheKey, CachedUser{UID: "u1", Email: &email}))

	s, idp := newStore(t, cache)
	snap := s.Snapshot()
	assert.Equal(t, Initializing, snap.State)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)

	// The cache read completes but never moves the state.
	require.Eventually(t, func() bool { return s.Cached() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "u1", s.Cached().UID)
	assert.Equal(t, Initializing, s.Snapshot().State)
	select {
	case <-s.Ready():
		t.Fatal("ready before the provider reported")
	default:
	}

	idp.Resolve(nil)
	<-s.Ready()
	snap = s.Snapshot()
	assert.Equal(t, Unauthenticated, snap.State)
	assert.False(t, snap.Loading)
	assert.Nil(t, s.Cached())

	// The stale record is cleared on the transition to UNAUTHENTICATED.
	_, ok, _ := cache.Get(context.Background(), CacheKey)
	assert.False(t, ok)
}

func TestLoginLogoutMirrorsCache(t *testing.T) {
	cache := kv.NewMemory()
	s, idp := newStore(t, cache)
	idp.AddAccount("ada@example.com", "secret1", "Ada")
	idp.Resolve(nil)
	waitState(t, s, Unauthenticated)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "ada@example.com", "secret1"))
	snap := waitState(t, s, Authenticated)
	require.NotNil(t, snap.User)
	assert.Equal(t, "Ada", snap.User.Name())

	require.Eventually(t, func() bool {
		var rec CachedUser
		ok, _ := kv.GetJSON(ctx, cache, CacheKey, &rec)
		return ok && rec.UID == snap.User.UID && rec.Timestamp > 0
	}, time.Second, 5*time.Millisecond)

	epoch := s.Epoch()
	require.NoError(t, s.Logout(ctx))
	snap = waitState(t, s, Unauthenticated)
	assert.Nil(t, snap.User)
	assert.Greater(t, s.Epoch(), epoch)
	_, ok, _ := cache.Get(ctx, CacheKey)
	assert.False(t, ok)
}

func TestUserPresentOnlyAfterLogin(t *testing.T) {
	s, idp := newStore(t, kv.NewMemory())
	idp.AddAccount("ada@example.com", "secret1", "Ada")
	idp.Resolve(nil)
	waitState(t, s, Unauthenticated)
	ctx := context.Background()

	steps := []struct {
		login bool
		want  State
	}{
		{true, Authenticated},
		{true, Authenticated},
		{false, Unauthenticated},
		{false, Unauthenticated},
		{true, Authenticated},
		{false, Unauthenticated},
	}
	for _, step := range steps {
		if step.login {
			require.NoError(t, s.Login(ctx, "ada@example.com", "secret1"))
		} else {
			require.NoError(t, s.Logout(ctx))
		}
		// Wait until the provider's event has been applied.
		wantUID := ""
		if step.login {
			wantUID = "set"
		}
		require.Eventually(t, func() bool {
			snap := s.Snapshot()
			return snap.State == step.want && (snap.User != nil) == (wantUID != "")
		}, time.Second, 5*time.Millisecond)
	}
}

func TestSignup(t *testing.T) {
	ctx := context.Background()

	t.Run("blank fields never reach the provider", func(t *testing.T) {
		s, idp := newStore(t, kv.NewMemory())
		idp.Resolve(nil)
		for _, in := range [][3]string{{"", "pw1234", "Ada"}, {"a@x.io", "", "Ada"}, {"a@x.io", "pw1234", "  "}} {
			err := s.Signup(ctx, in[0], in[1], in[2])
			assert.True(t, models.HasCode(err, models.CodeValidation), "%v", in)
		}
		_, err := idp.SignIn(ctx, "a@x.io", "pw1234")
		assert.Error(t, err, "no account should exist")
	})

	t.Run("success sets display name", func(t *testing.T) {
		s, idp := newStore(t, kv.NewMemory())
		idp.Resolve(nil)
		require.NoError(t, s.Signup(ctx, " new@x.io ", "pw1234", " Newbie "))
		require.Eventually(t, func() bool {
			u := s.User()
			return u != nil && u.Name() == "Newbie"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("duplicate and weak password are auth errors", func(t *testing.T) {
		s, idp := newStore(t, kv.NewMemory())
		idp.AddAccount("dup@x.io", "pw1234", "")
		idp.Resolve(nil)
		assert.True(t, models.HasCode(s.Signup(ctx, "dup@x.io", "pw1234", "Dup"), models.CodeAuth))
		assert.True(t, models.HasCode(s.Signup(ctx, "weak@x.io", "123", "Weak"), models.CodeAuth))
	})

	t.Run("network failure is an auth error", func(t *testing.T) {
		s, idp := newStore(t, kv.NewMemory())
		idp.Resolve(nil)
		offline := errors.New("dial tcp: connection refused")
		idp.FailNext(offline)
		err := s.Signup(ctx, "a@x.io", "pw1234", "Ada")
		assert.True(t, models.HasCode(err, models.CodeAuth))
		assert.ErrorIs(t, err, offline)
	})
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	s, idp := newStore(t, kv.NewMemory())
	idp.AddAccount("ada@example.com", "secret1", "Ada")
	idp.Resolve(nil)
	waitState(t, s, Unauthenticated)

	assert.True(t, models.HasCode(s.Login(ctx, "", "x"), models.CodeValidation))
	assert.True(t, models.HasCode(s.Login(ctx, "ada@example.com", "nope"), models.CodeAuth))

	idp.FailNext(errors.New("timeout"))
	assert.True(t, models.HasCode(s.Login(ctx, "ada@example.com", "secret1"), models.CodeAuth))
	assert.Equal(t, Unauthenticated, s.Snapshot().State)
}

func TestCacheFailuresAreIgnored(t *testing.T) {
	cache := new(MockKV)
	cache.On("Get", mock.Anything, CacheKey).Return("", false, errors.New("disk gone"))
	cache.On("Set", mock.Anything, CacheKey, mock.Anything).Return(errors.New("disk gone"))
	cache.On("Remove", mock.Anything, CacheKey).Return(errors.New("disk gone"))

	s, idp := newStore(t, cache)
	idp.AddAccount("ada@example.com", "secret1", "Ada")
	idp.Resolve(nil)
	waitState(t, s, Unauthenticated)

	require.NoError(t, s.Login(context.Background(), "ada@example.com", "secret1"))
	waitState(t, s, Authenticated)

	// The provider still signs out; only the cache failure is reported.
	err := s.Logout(context.Background())
	assert.True(t, models.HasCode(err, models.CodeAuth))
	waitState(t, s, Unauthenticated)
	assert.Equal(t, 1, idp.SignOuts())
}

func TestLogoutIgnoresProviderFailure(t *testing.T) {
	s, idp := newStore(t, kv.NewMemory())
	idp.Resolve(nil)
	idp.FailNext(errors.New("offline"))
	assert.NoError(t, s.Logout(context.Background()))
}

func TestSubscribe(t *testing.T) {
	s, idp := newStore(t, kv.NewMemory())

	var (
		mu     sync.Mutex
		states []State
	)
	unsubscribe := s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, snap.State)
	})

	idp.Resolve(nil)
	idp.Resolve(&provider.User{UID: "u1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	idp.Resolve(nil)
	waitState(t, s, Unauthenticated)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Unauthenticated, Authenticated}, states)
}

func TestCloseDetaches(t *testing.T) {
	s, idp := newStore(t, kv.NewMemory())
	assert.Equal(t, 1, idp.Listeners())

	idp.Resolve(&provider.User{UID: "u1"})
	waitState(t, s, Authenticated)
	epoch := s.Epoch()

	s.Close()
	s.Close()
	assert.Equal(t, 0, idp.Listeners())
	assert.Greater(t, s.Epoch(), epoch)

	idp.Resolve(nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Authenticated, s.Snapshot().State)
}

func TestWait(t *testing.T) {
	s, idp := newStore(t, kv.NewMemory())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	snap, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, snap.Loading)

	idp.Resolve(&provider.User{UID: "u1"})
	snap, err = s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "u1", snap.User.UID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INITIALIZING", Initializing.String())
	assert.Equal(t, "AUTHENTICATED", Authenticated.String())
	assert.Equal(t, "UNAUTHENTICATED", Unauthenticated.String())
	assert.Equal(t, "UNKNOWN", State(9).String())
}
