// Package session tracks who is signed in. A Store wraps an identity
// provider, exposes the current user with a loading flag and mirrors the user
// into a local cache for warm starts.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/provider"
)

// CacheKey is the KV key of the warm-start record.
const CacheKey = "@framez_user_persist"

const cacheTimeout = 5 * time.Second

// State is the session lifecycle state.
type State int

const (
	Initializing State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Authenticated:
		return "AUTHENTICATED"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State   State
	User    *provider.User
	Loading bool
}

// CachedUser is the warm-start record kept under CacheKey.
type CachedUser struct {
	UID         string  `json:"uid"`
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Timestamp   int64   `json:"timestamp"`
}

// Store is one session. Construct it with New and pass it to whatever needs
// identity; there is no package-level instance.
type Store struct {
	idp   provider.IdentityProvider
	cache kv.Store
	log   *slog.Logger

	mu        sync.RWMutex
	state     State
	user      *provider.User
	cached    *CachedUser
	epoch     uint64
	closed    bool
	listeners map[int]func(Snapshot)
	nextID    int

	ready       chan struct{}
	readyOnce   sync.Once
	unsubscribe func()
}

// New creates a Store in the INITIALIZING state, starts the warm-start cache
// read and subscribes to idp. A nil logger uses slog.Default.
func New(idp provider.IdentityProvider, cache kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		idp:       idp,
		cache:     cache,
		log:       logger.With("component", "session"),
		state:     Initializing,
		listeners: make(map[int]func(Snapshot)),
		ready:     make(chan struct{}),
	}
	go s.readCache()
	s.unsubscribe = idp.OnStateChange(s.handle)
	return s
}

func (s *Store) readCache() {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	var rec CachedUser
	ok, err := kv.GetJSON(ctx, s.cache, CacheKey, &rec)
	if err != nil {
		s.log.Warn("Could not read cached user", "error", err)
		return
	}
	if !ok || rec.UID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Initializing && !s.closed {
		s.cached = &rec
	}
}

// handle applies one authoritative provider event.
func (s *Store) handle(u *provider.User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	if u != nil {
		s.state = Authenticated
	} else {
		s.state = Unauthenticated
		if prev != Unauthenticated {
			s.epoch++
		}
	}
	s.user = provider.CloneUser(u)
	s.cached = nil
	snap := s.snapshotLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.mirror(u)

	for _, fn := range listeners {
		fn(snap)
	}
}

// mirror writes or clears the warm-start record. Failures are logged only.
func (s *Store) mirror(u *provider.User) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()

	if u == nil {
		if err := s.cache.Remove(ctx, CacheKey); err != nil {
			s.log.Warn("Could not clear cached user", "error", err)
		}
		return
	}
	rec := CachedUser{UID: u.UID, Email: u.Email, DisplayName: u.DisplayName, Timestamp: time.Now().UnixMilli()}
	if err := kv.SetJSON(ctx, s.cache, CacheKey, rec); err != nil {
		s.log.Warn("Could not cache user", "error", err)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, User: provider.CloneUser(s.user), Loading: s.state == Initializing}
}

func (s *Store) listenersLocked() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.listeners))
	for id := 1; id <= s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Snapshot returns the current state. User is nil while Loading.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// User returns the signed-in user, or nil while loading or signed out.
func (s *Store) User() *provider.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return provider.CloneUser(s.user)
}

// Cached returns the warm-start record read at startup. It is only available
// while the store is still INITIALIZING.
func (s *Store) Cached() *CachedUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached == nil {
		return nil
	}
	c := *s.cached
	return &c
}

// Epoch changes every time the session ends through sign-out or Close.
// Work started under one epoch is stale once it changes.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Ready is closed once the first authoritative event has been applied.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until Ready or ctx is done.
func (s *Store) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.ready:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Subscribe calls fn after every transition, on the provider's event
// goroutine. The returned func removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Signup creates an account and sets its display name. The session moves
// when the provider reports the new account.
func (s *Store) Signup(ctx context.Context, email, password, displayName string) error {
	email, displayName = strings.TrimSpace(email), strings.TrimSpace(displayName)
	if email == "" || password == "" || displayName == "" {
		return models.NewValidationError("Please fill all fields")
	}

	user, err := s.idp.CreateAccount(ctx, email, password)
	if err != nil {
		return asAuthError(err, "Signup failed")
	}
	if _, err := s.idp.UpdateProfile(ctx, user, provider.ProfileUpdate{DisplayName: displayName}); err != nil {
		return asAuthError(err, "Could not set display name")
	}
	return nil
}

// Login signs in with email and password.
func (s *Store) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return models.NewValidationError("Please fill all fields")
	}
	if _, err := s.idp.SignIn(ctx, email, password); err != nil {
		return asAuthError(err, "Login failed")
	}
	return nil
}

// Logout signs out with the provider and then clears the warm-start record.
// Only a failure to clear the record is reported.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.idp.SignOut(ctx); err != nil {
		s.log.Warn("Provider sign-out failed", "error", err)
	}
	if err := s.cache.Remove(ctx, CacheKey); err != nil {
		return models.NewAuthError("Could not clear local session", err)
	}
	return nil
}

// Close detaches from the provider. Events arriving afterwards are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.epoch++
	s.listeners = make(map[int]func(Snapshot))
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func asAuthError(err error, fallback string) error {
	if models.HasCode(err, models.CodeAuth) {
		return err
	}
	return models.NewAuthError(fallback, err)
}
