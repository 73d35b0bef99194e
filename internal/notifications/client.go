package notifications

import (
	"sync"
	"time"

	"framez/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 64
)

// WSHub is an interface for hubs that manage generic clients
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is a middleman between the websocket connection and a hub.
type Client struct {
	Hub WSHub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// UserID of the viewer. Anonymous viewers share one key.
	UserID string

	// Callback for handling incoming messages
	IncomingHandler func(*Client, []byte)

	closeMu   sync.Mutex
	onClose   func()
	closeDone bool
}

// NewClient creates a new Client instance
func NewClient(hub WSHub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// OnClose sets a hook that runs once when the client leaves its hub.
// If the client already left, fn runs immediately.
func (c *Client) OnClose(fn func()) {
	c.closeMu.Lock()
	if !c.closeDone {
		c.onClose = fn
		c.closeMu.Unlock()
		return
	}
	c.closeMu.Unlock()
	fn()
}

func (c *Client) runCloseHook() {
	c.closeMu.Lock()
	if c.closeDone {
		c.closeMu.Unlock()
		return
	}
	c.closeDone = true
	fn := c.onClose
	c.onClose = nil
	c.closeMu.Unlock()

	if fn != nil {
		fn()
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				observability.GlobalLogger.Warn("websocket read failed", "viewer_id", c.UserID, "error", err.Error())
			}
			break
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// It returns when done is closed or the connection fails.
func (c *Client) WritePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case message := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a message without blocking. It reports false when the buffer is full.
func (c *Client) TrySend(message []byte) bool {
	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
		observability.GlobalLogger.Warn("buffer full, dropped message", "viewer_id", c.UserID, "hub", c.Hub.Name())
		return false
	}
}

// ReplaceLatest queues message, discarding older queued messages if the buffer is full.
// Snapshots supersede each other, so only the newest one matters to a slow reader.
func (c *Client) ReplaceLatest(message []byte) {
	for {
		select {
		case c.Send <- message:
			return
		default:
		}
		select {
		case <-c.Send:
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "superseded").Inc()
		default:
		}
	}
}
