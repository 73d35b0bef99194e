package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"framez/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultFeedLimit},
		{"?limit=10", 10},
		{"?limit=0", defaultFeedLimit},
		{"?limit=-5", defaultFeedLimit},
		{"?limit=abc", defaultFeedLimit},
		{"?limit=99999", maxFeedLimit},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			var got int
			app.Get("/", func(c *fiber.Ctx) error {
				got = parseLimit(c)
				return nil
			})
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil))
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHumanizeParam(t *testing.T) {
	assert.Equal(t, "ID", humanizeParam("id"))
	assert.Equal(t, "user ID", humanizeParam("userId"))
	assert.Equal(t, "post ID", humanizeParam("postId"))
	assert.Equal(t, "slug", humanizeParam("slug"))
}

func TestPathIDRejectsOversizedID(t *testing.T) {
	app := fiber.New()
	app.Get("/posts/:id", func(c *fiber.Ctx) error {
		id, ok := pathID(c, "id")
		if !ok {
			return nil
		}
		return c.SendString(id)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/posts/abc", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/posts/"+string(long), nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Invalid ID", body.Error)
	assert.Equal(t, models.CodeValidation, body.Code)
}

func TestCurrentUserID(t *testing.T) {
	app := fiber.New()
	var anonymous, signedIn string
	app.Get("/anon", func(c *fiber.Ctx) error {
		anonymous = currentUserID(c)
		return nil
	})
	app.Get("/user", withUser("u-9"), func(c *fiber.Ctx) error {
		signedIn = currentUserID(c)
		return nil
	})

	for _, path := range []string{"/anon", "/user"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	assert.Empty(t, anonymous)
	assert.Equal(t, "u-9", signedIn)
}
