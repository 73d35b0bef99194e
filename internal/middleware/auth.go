package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TokenVerifier resolves a bearer token to the user ID it was issued for.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (userID string, jti string, err error)
}

// BearerToken extracts the token from "Authorization: Bearer <token>", falling back to the
// token query parameter used by WebSocket clients.
func BearerToken(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// AuthRequired rejects requests without a valid token and stores userID and jti in Fiber locals.
func AuthRequired(v TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
				"code":  "AUTH_REQUIRED",
			})
		}

		userID, jti, err := v.VerifyToken(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
				"code":  "AUTH_REQUIRED",
			})
		}

		c.Locals("userID", userID)
		c.Locals("jti", jti)
		c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
		return c.Next()
	}
}

// OptionalAuth stores userID when a valid token is present and never rejects the request.
func OptionalAuth(v TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token := BearerToken(c); token != "" {
			if userID, jti, err := v.VerifyToken(c.UserContext(), token); err == nil {
				c.Locals("userID", userID)
				c.Locals("jti", jti)
			}
		}
		return c.Next()
	}
}
