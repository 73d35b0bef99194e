// Package livequery keeps registered post queries up to date. It listens to
// change events on the notifications bus, re-runs only the queries a change can
// affect and pushes a full snapshot when the result differs from the last one sent.
package livequery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"framez/internal/models"
	"framez/internal/notifications"
	"framez/internal/observability"

	"github.com/google/uuid"
)

// Message types sent to subscribers.
const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

const refreshTimeout = 10 * time.Second

// ErrClosed is returned by Register after Close.
var ErrClosed = errors.New("live query engine closed")

// Query identifies a live query. An empty UserID matches every post.
type Query struct {
	Collection string `json:"collection"`
	UserID     string `json:"userId,omitempty"`
}

func (q Query) key() string { return q.Collection + "|" + q.UserID }

// Relevant reports whether ev can change the result of q.
func (q Query) Relevant(ev notifications.ChangeEvent) bool {
	if ev.Collection != q.Collection {
		return false
	}
	return q.UserID == "" || ev.OwnerID == "" || ev.OwnerID == q.UserID
}

// Envelope is the wire message pushed to subscribers.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotPayload is the payload of a snapshot message.
type SnapshotPayload struct {
	Query Query          `json:"query"`
	Posts []*models.Post `json:"posts"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Fetcher runs a query against the store. Results must already be in feed order.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]*models.Post, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q Query) ([]*models.Post, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, q Query) ([]*models.Post, error) { return f(ctx, q) }

// Sink receives encoded envelopes. It must not block.
type Sink func(message []byte)

// Engine tracks subscriptions grouped by query.
type Engine struct {
	fetch Fetcher
	log   *observability.StreamLogger

	mu     sync.Mutex
	groups map[string]*group
	closed bool
}

// group serializes fetch and delivery for every subscriber of one query so
// snapshots reach each subscriber in the order they were computed.
type group struct {
	query Query

	mu   sync.Mutex
	subs map[string]*Handle
}

// Handle is one registered subscription.
type Handle struct {
	ID string

	engine *Engine
	group  *group
	sink   Sink
	last   []byte
	once   sync.Once
}

// NewEngine creates an engine that runs queries with fetch.
func NewEngine(fetch Fetcher) *Engine {
	return &Engine{
		fetch:  fetch,
		log:    observability.NewStreamLogger("livequery"),
		groups: make(map[string]*group),
	}
}

// Start subscribes the engine to bus until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, bus notifications.Bus) error {
	return bus.Subscribe(ctx, e.HandleChange)
}

// Register adds a subscription and delivers its initial snapshot before returning.
func (e *Engine) Register(ctx context.Context, q Query, sink Sink) (*Handle, error) {
	if q.Collection == "" {
		q.Collection = models.PostsCollection
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	g, ok := e.groups[q.key()]
	if !ok {
		g = &group{query: q, subs: make(map[string]*Handle)}
		e.groups[q.key()] = g
	}
	h := &Handle{ID: uuid.NewString(), engine: e, group: g, sink: sink}
	// Added under e.mu so a concurrent last Close cannot drop the group.
	g.mu.Lock()
	g.subs[h.ID] = h
	e.mu.Unlock()

	observability.LiveQuerySubscriptions.WithLabelValues(q.Collection).Inc()
	e.log.LogOpen(ctx, h.ID, q.Collection, q.UserID)

	msg, err := e.snapshot(ctx, q)
	if err == nil {
		h.deliver(msg)
	}
	g.mu.Unlock()

	if err != nil {
		e.log.LogError(ctx, h.ID, err, "initial")
		h.Close()
		return nil, err
	}
	return h, nil
}

func (e *Engine) snapshot(ctx context.Context, q Query) ([]byte, error) {
	posts, err := e.fetch.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	return encodeSnapshot(q, posts)
}

// HandleChange re-runs every query ev can affect. It is safe to call directly,
// which is how a single instance without a networked bus wires writes to reads.
func (e *Engine) HandleChange(ev notifications.ChangeEvent) {
	e.mu.Lock()
	var affected []*group
	for _, g := range e.groups {
		if g.query.Relevant(ev) {
			affected = append(affected, g)
		}
	}
	e.mu.Unlock()

	for _, g := range affected {
		e.refresh(g)
	}
}

func (e *Engine) refresh(g *group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	msg, err := e.snapshot(ctx, g.query)
	if err != nil {
		errMsg := encodeError(err)
		for id, h := range g.subs {
			e.log.LogError(ctx, id, err, "refresh")
			h.sink(errMsg)
		}
		return
	}
	for _, h := range g.subs {
		h.deliver(msg)
	}
}

// deliver pushes msg unless it equals the last snapshot sent. Callers hold group.mu.
func (h *Handle) deliver(msg []byte) {
	if h.last != nil && bytes.Equal(h.last, msg) {
		return
	}
	h.last = msg
	observability.LiveQuerySnapshots.WithLabelValues(h.group.query.Collection).Inc()
	h.sink(msg)
}

// Close removes the subscription. It is idempotent.
func (h *Handle) Close() {
	h.once.Do(func() {
		e := h.engine
		e.mu.Lock()
		h.group.mu.Lock()
		delete(h.group.subs, h.ID)
		if len(h.group.subs) == 0 && e.groups[h.group.query.key()] == h.group {
			delete(e.groups, h.group.query.key())
		}
		h.group.mu.Unlock()
		e.mu.Unlock()

		observability.LiveQuerySubscriptions.WithLabelValues(h.group.query.Collection).Dec()
		e.log.LogClose(context.Background(), h.ID, "closed")
	})
}

// Subscriptions returns the number of open subscriptions.
func (e *Engine) Subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, g := range e.groups {
		g.mu.Lock()
		n += len(g.subs)
		g.mu.Unlock()
	}
	return n
}

// Close rejects new registrations. Existing handles stay valid until closed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func encodeSnapshot(q Query, posts []*models.Post) ([]byte, error) {
	if posts == nil {
		posts = []*models.Post{}
	}
	payload, err := json.Marshal(SnapshotPayload{Query: q, Posts: posts})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: TypeSnapshot, Payload: payload})
}

func encodeError(err error) []byte {
	payload, _ := json.Marshal(ErrorPayload{Error: err.Error()})
	msg, _ := json.Marshal(Envelope{Type: TypeError, Payload: payload})
	return msg
}
