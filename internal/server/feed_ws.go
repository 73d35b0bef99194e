package server

import (
	"context"
	"encoding/json"
	"time"

	"framez/internal/featureflags"
	"framez/internal/livequery"
	"framez/internal/models"
	"framez/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// anonymousViewer is the hub key shared by viewers without a token.
const anonymousViewer = "anonymous"

const registerTimeout = 10 * time.Second

// FeedStreamHandler handles GET /api/ws/posts?user=<uid>. Each connection holds
// one live query. The first frame is the current snapshot and every later frame
// replaces it.
func (s *Server) FeedStreamHandler() fiber.Handler {
	upgrade := websocket.New(s.serveFeedStream)

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return models.RespondWithError(c, fiber.StatusUpgradeRequired,
				models.NewValidationError("WebSocket upgrade required"))
		}
		if currentUserID(c) == "" && !s.featureFlags.Global(featureflags.PublicFeedStream) {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewAuthRequiredError("Authorization required"))
		}
		return upgrade(c)
	}
}

func (s *Server) serveFeedStream(conn *websocket.Conn) {
	viewer, _ := conn.Locals("userID").(string)
	if viewer == "" {
		viewer = anonymousViewer
	}
	query := livequery.Query{Collection: models.PostsCollection, UserID: conn.Query("user")}

	client, err := s.hub.Register(viewer, conn)
	if err != nil {
		observability.GlobalLogger.Warn("feed stream rejected", "viewer_id", viewer, "error", err.Error())
		writeStreamError(conn, err)
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithTimeout(s.shutdownCtx, registerTimeout)
	handle, err := s.engine.Register(ctx, query, client.ReplaceLatest)
	cancel()
	if err != nil {
		s.hub.UnregisterClient(client)
		writeStreamError(conn, err)
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	client.OnClose(func() {
		handle.Close()
		close(done)
	})

	go client.WritePump(done)

	// Read pump runs in the main handler goroutine (blocking)
	client.ReadPump()
}

func writeStreamError(conn *websocket.Conn, err error) {
	payload, _ := json.Marshal(livequery.ErrorPayload{Error: err.Error()})
	msg, _ := json.Marshal(livequery.Envelope{Type: livequery.TypeError, Payload: payload})
	_ = conn.WriteMessage(websocket.TextMessage, msg)
}
