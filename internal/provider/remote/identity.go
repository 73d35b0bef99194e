package remote

import (
	"context"
	"errors"
	"net/http"

	"framez/internal/models"
	"framez/internal/provider"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func authErr(err error, fallback string) error {
	return wrap(err, fallback, models.NewAuthError, models.CodeAuth)
}

// restore validates the persisted token and publishes the first
// authoritative state.
func (c *Client) restore() {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.ctx, defaultTimeout)
	defer cancel()

	token, ok, err := c.store.Get(ctx, TokenKey)
	if err != nil {
		c.log.Warn("Could not read saved session token", "error", err)
	}
	if !ok || token == "" {
		c.publishIf(gen, "", nil)
		return
	}

	c.mu.Lock()
	if c.gen == gen {
		c.token = token
	}
	c.mu.Unlock()

	var me models.User
	err = c.do(ctx, http.MethodGet, "/api/auth/me", nil, &me)
	switch {
	case err == nil:
		c.publishIf(gen, token, provider.FromModel(&me))
	case models.StatusFor(err) == http.StatusUnauthorized || models.HasCode(err, models.CodeNotFound):
		if rmErr := c.store.Remove(ctx, TokenKey); rmErr != nil {
			c.log.Warn("Could not clear expired session token", "error", rmErr)
		}
		c.publishIf(gen, "", nil)
	default:
		// The token is kept for the next start; this run is signed out.
		c.log.Warn("Could not validate saved session", "error", err)
		c.publishIf(gen, "", nil)
	}
}

func (c *Client) publishIf(gen uint64, token string, user *provider.User) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.token = token
	c.mu.Unlock()
	c.emitter.Publish(user)
}

// signedIn stores the new token and publishes user.
func (c *Client) signedIn(ctx context.Context, res authResult) *provider.User {
	c.mu.Lock()
	c.gen++
	c.token = res.Token
	c.mu.Unlock()

	if err := c.store.Set(ctx, TokenKey, res.Token); err != nil {
		c.log.Warn("Could not persist session token", "error", err)
	}
	user := provider.FromModel(res.User)
	c.emitter.Publish(user)
	return user
}

func (c *Client) CreateAccount(ctx context.Context, email, password string) (*provider.User, error) {
	var res authResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", credentials{Email: email, Password: password}, &res); err != nil {
		return nil, authErr(err, "Could not create account")
	}
	if res.User == nil || res.Token == "" {
		return nil, models.NewAuthError("Could not create account", errors.New("empty auth response"))
	}
	return c.signedIn(ctx, res), nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*provider.User, error) {
	var res authResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", credentials{Email: email, Password: password}, &res); err != nil {
		return nil, authErr(err, "Could not sign in")
	}
	if res.User == nil || res.Token == "" {
		return nil, models.NewAuthError("Could not sign in", errors.New("empty auth response"))
	}
	return c.signedIn(ctx, res), nil
}

// SignOut revokes the token on the server when it can and always clears the
// local session.
func (c *Client) SignOut(ctx context.Context) error {
	if c.bearer() != "" {
		if err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
			c.log.Warn("Server sign-out failed", "error", err)
		}
	}

	c.mu.Lock()
	c.gen++
	c.token = ""
	c.mu.Unlock()

	if err := c.store.Remove(ctx, TokenKey); err != nil {
		c.log.Warn("Could not remove session token", "error", err)
	}
	c.emitter.Publish(nil)
	return nil
}

func (c *Client) OnStateChange(cb func(*provider.User)) func() {
	return c.emitter.Subscribe(cb)
}

func (c *Client) UpdateProfile(ctx context.Context, user *provider.User, update provider.ProfileUpdate) (*provider.User, error) {
	if c.bearer() == "" {
		return nil, models.NewAuthError("Not signed in", nil)
	}
	var updated models.User
	body := map[string]string{"displayName": update.DisplayName}
	if err := c.do(ctx, http.MethodPatch, "/api/auth/profile", body, &updated); err != nil {
		return nil, authErr(err, "Could not update profile")
	}
	out := provider.FromModel(&updated)
	if current, _ := c.emitter.Current(); current != nil && user != nil && current.UID == out.UID {
		c.emitter.Publish(out)
	}
	return out, nil
}
