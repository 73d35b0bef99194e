package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"framez/internal/livequery"
	"framez/internal/models"
	"framez/internal/provider"

	"github.com/gorilla/websocket"
)

func docErr(err error, fallback string) error {
	if models.HasCode(err, models.CodeAuth) {
		return models.NewAuthRequiredError("Sign in required")
	}
	return wrap(err, fallback, models.NewMutationError, models.CodeMutation, models.CodeAuthRequired, models.CodeValidation)
}

func postPath(id string) string {
	return "/api/posts/" + url.PathEscape(id)
}

func checkCollection(collection string) error {
	if collection != models.PostsCollection {
		return models.NewMutationError(fmt.Sprintf("Unknown collection %q", collection), nil)
	}
	return nil
}

func (c *Client) Insert(ctx context.Context, collection string, doc *models.Post) (*models.Post, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	body := map[string]any{"caption": doc.Caption, "imageUrl": doc.ImageURL}
	var created models.Post
	if err := c.do(ctx, http.MethodPost, "/api/posts", body, &created); err != nil {
		return nil, docErr(err, "Could not create post")
	}
	created.Normalize()
	return &created, nil
}

// Update applies each field of patch with its own request, in a fixed order.
func (c *Client) Update(ctx context.Context, collection, id string, patch provider.Patch) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if patch.Caption != nil {
		body := map[string]string{"caption": *patch.Caption}
		if err := c.do(ctx, http.MethodPatch, postPath(id), body, nil); err != nil {
			return docErr(err, "Could not edit post")
		}
	}
	if patch.AddLike != "" {
		if err := c.do(ctx, http.MethodPut, postPath(id)+"/likes", nil, nil); err != nil {
			return docErr(err, "Could not like post")
		}
	}
	if patch.RemoveLike != "" {
		if err := c.do(ctx, http.MethodDelete, postPath(id)+"/likes", nil, nil); err != nil {
			return docErr(err, "Could not unlike post")
		}
	}
	if patch.AppendComment != nil {
		body := map[string]string{"text": patch.AppendComment.Text}
		if err := c.do(ctx, http.MethodPost, postPath(id)+"/comments", body, nil); err != nil {
			return docErr(err, "Could not add comment")
		}
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodDelete, postPath(id), nil, nil); err != nil {
		return docErr(err, "Could not delete post")
	}
	return nil
}

// LiveQuery opens a websocket stream of snapshots. The server only supports
// newest-first ordering.
func (c *Client) LiveQuery(ctx context.Context, collection string, filter provider.Filter, order provider.OrderBy) (provider.LiveQuery, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if order != provider.NewestFirst {
		return nil, models.NewMutationError("Unsupported ordering", fmt.Errorf("%+v", order))
	}

	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/ws/posts"
	q := url.Values{}
	if filter.UserID != "" {
		q.Set("user", filter.UserID)
	}
	if token := c.bearer(); token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return nil, docErr(decodeError(resp), "Could not open live query")
		}
		return nil, docErr(err, "Could not open live query")
	}

	lq := &liveQuery{
		conn:     conn,
		out:      make(chan provider.Snapshot),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go lq.readLoop()
	return lq, nil
}

type liveQuery struct {
	conn     *websocket.Conn
	out      chan provider.Snapshot
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
}

func (q *liveQuery) Snapshots() <-chan provider.Snapshot {
	return q.out
}

// Close ends the stream and waits for the reader to exit. It is safe to call
// more than once.
func (q *liveQuery) Close() error {
	q.once.Do(func() {
		close(q.done)
		_ = q.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = q.conn.Close()
	})
	<-q.finished
	return nil
}

func (q *liveQuery) deliver(s provider.Snapshot) bool {
	select {
	case q.out <- s:
		return true
	case <-q.done:
		return false
	}
}

func (q *liveQuery) readLoop() {
	defer close(q.finished)
	defer close(q.out)

	for {
		_, data, err := q.conn.ReadMessage()
		if err != nil {
			select {
			case <-q.done:
			default:
				q.deliver(provider.Snapshot{Err: models.NewMutationError("Live query ended", err)})
			}
			return
		}

		var env livequery.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if !q.deliver(provider.Snapshot{Err: models.NewMutationError("Malformed live query message", err)}) {
				return
			}
			continue
		}

		switch env.Type {
		case livequery.TypeSnapshot:
			var snap livequery.SnapshotPayload
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				if !q.deliver(provider.Snapshot{Err: models.NewMutationError("Malformed snapshot", err)}) {
					return
				}
				continue
			}
			for _, p := range snap.Posts {
				p.Normalize()
			}
			if snap.Posts == nil {
				snap.Posts = []*models.Post{}
			}
			if !q.deliver(provider.Snapshot{Posts: snap.Posts}) {
				return
			}
		case livequery.TypeError:
			var payload livequery.ErrorPayload
			_ = json.Unmarshal(env.Payload, &payload)
			if !q.deliver(provider.Snapshot{Err: models.NewMutationError("Live query failed", errors.New(payload.Error))}) {
				return
			}
		}
	}
}
