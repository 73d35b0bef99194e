package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("change bus closed")

// LocalBus fans events out inside a single process. It is the default for a
// single API instance and for tests.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]chan ChangeEvent
	nextID int
	closed bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]chan ChangeEvent)}
}

// Name implements Bus.
func (b *LocalBus) Name() string { return "local" }

// Publish delivers ev to every subscriber. A subscriber whose buffer is full
// misses the event, matching the at-most-once delivery of the Redis backend.
func (b *LocalBus) Publish(_ context.Context, ev ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *LocalBus) Subscribe(ctx context.Context, h Handler) error {
	ch := make(chan ChangeEvent, 256)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		defer b.remove(id)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				dispatch(b.Name(), h, ev)
			}
		}
	}()
	return nil
}

func (b *LocalBus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Close stops every subscriber.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
