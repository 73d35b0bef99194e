// Package feed holds the client side of the post feed: live post queries,
// the mutation facade with optimistic likes, and the view-model the screens
// render from.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"

	"framez/internal/models"
	"framez/internal/provider"
)

// Update is one delivery of a Subscription: a full snapshot ordered newest
// first, or the error that ended the stream.
type Update struct {
	Posts []*models.Post
	Err   error
}

// Repository issues live queries against a document store.
type Repository struct {
	docs provider.DocumentStore
}

// NewRepository creates a repository over docs.
func NewRepository(docs provider.DocumentStore) *Repository {
	return &Repository{docs: docs}
}

// AllPosts subscribes to every post.
func (r *Repository) AllPosts(ctx context.Context) (*Subscription, error) {
	return r.open(ctx, provider.Filter{})
}

// PostsByUser subscribes to the posts written by uid.
func (r *Repository) PostsByUser(ctx context.Context, uid string) (*Subscription, error) {
	if strings.TrimSpace(uid) == "" {
		return nil, models.NewValidationError("A user ID is required")
	}
	return r.open(ctx, provider.Filter{UserID: uid})
}

func (r *Repository) open(ctx context.Context, filter provider.Filter) (*Subscription, error) {
	q, err := r.docs.LiveQuery(ctx, models.PostsCollection, filter, provider.NewestFirst)
	if err != nil {
		return nil, err
	}
	s := &Subscription{
		query:    q,
		out:      make(chan Update),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Subscription is an open live query. Close must be called once the caller
// loses interest; it is safe to call more than once.
type Subscription struct {
	query    provider.LiveQuery
	out      chan Update
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

// Updates delivers the initial snapshot and every later one. It is closed
// after Close or when the underlying query ends.
func (s *Subscription) Updates() <-chan Update {
	return s.out
}

// Close releases the live query and waits for the delivery goroutine.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.query.Close()
	})
	<-s.finished
	return err
}

func (s *Subscription) run() {
	defer close(s.finished)
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case snap, ok := <-s.query.Snapshots():
			if !ok {
				return
			}
			u := Update{Err: snap.Err}
			if snap.Err == nil {
				u.Posts = SortNewestFirst(snap.Posts)
			}
			select {
			case s.out <- u:
			case <-s.done:
				return
			}
		}
	}
}

// SortNewestFirst returns posts ordered by createdAt descending with ties
// broken by id descending. The input is not modified.
func SortNewestFirst(posts []*models.Post) []*models.Post {
	out := make([]*models.Post, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
