// Package routeguard decides which navigation stack a session may see.
package routeguard

import (
	"sync"

	"framez/internal/session"
)

// Route groups and their landing routes.
const (
	GroupAuth = "(auth)"
	GroupTabs = "(tabs)"

	LoginRoute = "/(auth)/login"
	FeedRoute  = "/(tabs)/feed"
)

// Decision is what the navigator should do. At most one field is set.
type Decision struct {
	// Loading asks for a neutral placeholder while the session is unknown.
	Loading  bool
	Redirect string
}

// Decide maps a session state and the current route group to a navigation
// decision. A redirect to the group already shown is never issued.
func Decide(state session.State, group string) Decision {
	switch state {
	case session.Authenticated:
		if group != GroupTabs {
			return Decision{Redirect: FeedRoute}
		}
	case session.Unauthenticated:
		if group != GroupAuth {
			return Decision{Redirect: LoginRoute}
		}
	default:
		return Decision{Loading: true}
	}
	return Decision{}
}

// GroupOf returns the route group a path belongs to, or "".
func GroupOf(route string) string {
	for _, g := range []string{GroupAuth, GroupTabs} {
		prefix := "/" + g
		if route == prefix || len(route) > len(prefix) && route[:len(prefix)+1] == prefix+"/" {
			return g
		}
	}
	return ""
}

// Navigator is the host's router.
type Navigator interface {
	CurrentRoute() string
	Navigate(route string)
	ShowLoading(loading bool)
}

// Guard applies Decide to a navigator on every session transition.
type Guard struct {
	nav   Navigator
	store *session.Store

	// mu serializes navigator calls.
	mu          sync.Mutex
	unsubscribe func()
}

// Attach evaluates the current session immediately and then after every
// transition. Call Detach to stop.
func Attach(store *session.Store, nav Navigator) *Guard {
	g := &Guard{nav: nav, store: store}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubscribe = store.Subscribe(func(snap session.Snapshot) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.unsubscribe != nil {
			g.applyLocked(snap.State)
		}
	})
	g.applyLocked(store.Snapshot().State)
	return g
}

func (g *Guard) applyLocked(state session.State) {
	d := Decide(state, GroupOf(g.nav.CurrentRoute()))
	g.nav.ShowLoading(d.Loading)
	if d.Redirect != "" {
		g.nav.Navigate(d.Redirect)
	}
}

// Detach stops following the session.
func (g *Guard) Detach() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
}
