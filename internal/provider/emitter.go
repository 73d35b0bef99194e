package provider

import (
	"sort"
	"sync"
)

type delivery struct {
	target int // 0 broadcasts
	user   *User
}

// StateEmitter fans session events out to OnStateChange listeners. Events are
// queued without blocking the publisher and delivered in order by a single
// goroutine.
type StateEmitter struct {
	mu        sync.Mutex
	known     bool
	user      *User
	listeners map[int]func(*User)
	nextID    int
	queue     []delivery
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewStateEmitter starts the delivery goroutine. Call Close to stop it.
func NewStateEmitter() *StateEmitter {
	e := &StateEmitter{
		listeners: make(map[int]func(*User)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

// Subscribe registers cb. When the state is already known cb receives it first.
func (e *StateEmitter) Subscribe(cb func(*User)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = cb
	if e.known {
		e.enqueueLocked(delivery{target: id, user: e.user})
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Publish records u as the current user and broadcasts it.
func (e *StateEmitter) Publish(u *User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.known = true
	e.user = CloneUser(u)
	e.enqueueLocked(delivery{user: e.user})
}

// Current returns the last published user and whether any event was published.
func (e *StateEmitter) Current() (*User, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CloneUser(e.user), e.known
}

// Close drops pending deliveries and stops the goroutine.
func (e *StateEmitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	close(e.done)
}

func (e *StateEmitter) enqueueLocked(d delivery) {
	if e.closed {
		return
	}
	e.queue = append(e.queue, d)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *StateEmitter) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if e.closed || len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			d := e.queue[0]
			e.queue = e.queue[1:]
			targets := e.targetsLocked(d.target)
			e.mu.Unlock()

			for _, cb := range targets {
				cb(CloneUser(d.user))
			}
		}
	}
}

func (e *StateEmitter) targetsLocked(target int) []func(*User) {
	if target != 0 {
		if cb, ok := e.listeners[target]; ok {
			return []func(*User){cb}
		}
		return nil
	}
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(*User), 0, len(ids))
	for _, id := range ids {
		out = append(out, e.listeners[id])
	}
	return out
}

// CloneUser returns a deep copy of u.
func CloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := &User{UID: u.UID}
	if u.DisplayName != nil {
		v := *u.DisplayName
		c.DisplayName = &v
	}
	if u.Email != nil {
		v := *u.Email
		c.Email = &v
	}
	return c
}
