// Package remote implements the provider interfaces against the Framez API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/provider"

	"github.com/gorilla/websocket"
)

// TokenKey is the KV key the bearer token is persisted under.
const TokenKey = "@framez_auth_token"

const defaultTimeout = 30 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Uploads use a copy of it
// without the overall timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithDialer replaces the websocket dialer used for live queries.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client talks to one Framez API. It implements provider.IdentityProvider,
// provider.DocumentStore and provider.BlobStore.
type Client struct {
	base *url.URL
	http *http.Client
	// uploads has no overall timeout; ctx bounds it.
	uploads *http.Client
	dialer  *websocket.Dialer
	store   kv.Store
	log     *slog.Logger

	emitter *provider.StateEmitter
	ctx     context.Context
	cancel  context.CancelFunc

	mu    sync.RWMutex
	token string
	// gen is bumped by every sign-in or sign-out so a slow token restore
	// cannot overwrite a newer state.
	gen uint64
}

var (
	_ provider.IdentityProvider = (*Client)(nil)
	_ provider.DocumentStore    = (*Client)(nil)
	_ provider.BlobStore        = (*Client)(nil)
)

// New creates a client for baseURL and starts restoring the session from the
// token kept in store. The first OnStateChange event reports the outcome.
func New(baseURL string, store kv.Store, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base URL must be http or https, got %q", baseURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: defaultTimeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		store:   store,
		log:     slog.Default(),
		emitter: provider.NewStateEmitter(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	uploads := *c.http
	uploads.Timeout = 0
	c.uploads = &uploads

	go c.restore()
	return c, nil
}

// Close stops event delivery and releases idle connections. Open live
// queries must be closed by their owners.
func (c *Client) Close() error {
	c.cancel()
	c.emitter.Close()
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// do sends a JSON request and decodes a JSON response into out. API errors
// come back as *models.AppError; transport failures are returned as is.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	return c.sendWith(c.http, req, out)
}

func (c *Client) sendWith(hc *http.Client, req *http.Request, out any) error {
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body models.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = json.Unmarshal(data, &body)
	return models.FromResponse(resp.StatusCode, body)
}

// wrap keeps an AppError already carrying one of keep and otherwise wraps err
// with build, reusing the API's message when there is one.
func wrap(err error, fallback string, build func(string, error) *models.AppError, keep ...string) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		for _, code := range keep {
			if appErr.Code == code {
				return appErr
			}
		}
		return build(appErr.Message, err)
	}
	return build(fallback, err)
}
