package server

import (
	"strings"

	"framez/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 200
)

// parseLimit reads the limit query parameter, clamped to (0, maxFeedLimit].
func parseLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultFeedLimit)
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	return limit
}

// currentUserID returns the authenticated user, or "" for anonymous requests.
func currentUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("userID").(string)
	return userID
}

// pathID returns a trimmed route parameter. On failure it writes a 400 JSON
// response and reports false; the handler should then return nil.
func pathID(c *fiber.Ctx, param string) (string, bool) {
	id := strings.TrimSpace(c.Params(param))
	if id == "" || len(id) > 64 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return "", false
	}
	return id, true
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		return strings.ToLower(param[:len(param)-2]) + " ID"
	}
	return param
}

// respond writes err with the status its code maps to.
func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithAppError(c, err)
}

// parseBody decodes the request body into dest. On failure it writes a 400
// response and reports false.
func parseBody(c *fiber.Ctx, dest any) bool {
	if err := c.BodyParser(dest); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return false
	}
	return true
}
