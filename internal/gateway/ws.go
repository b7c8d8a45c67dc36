// ABOUTME: Websocket hub where clients receive streamed chat events
// ABOUTME: Authenticates the upgrade, registers the channel, unregisters on close

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evachat/eva-gateway/internal/auth"
	"github.com/evachat/eva-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is bearer-token authenticated; cross-origin browser tabs
	// are expected clients.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	// writeWait bounds a single frame write before the channel is
	// considered dead.
	writeWait = 10 * time.Second

	// sendBuffer is the per-connection queue of pending events. A client
	// that cannot drain this many events during one stream is dropped.
	sendBuffer = 256
)

// wsChannel adapts one websocket connection to the session.Channel
// contract. Events are queued to a buffered channel and written by a
// single goroutine, since gorilla connections allow one writer at a time.
type wsChannel struct {
	conn   *websocket.Conn
	sendCh chan *session.Event
	done   chan struct{}
}

var errChannelClosed = errors.New("channel closed")
var errSendQueueFull = errors.New("send queue full")

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn:   conn,
		sendCh: make(chan *session.Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues an event for delivery. Returns an error once the connection
// is closed or the client has stopped draining; the registry treats either
// as an implicit disconnect.
func (c *wsChannel) Send(event *session.Event) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	select {
	case c.sendCh <- event:
		return nil
	default:
		return errSendQueueFull
	}
}

// writeLoop drains the send queue onto the wire. Exits on write failure
// or when the reader signals close.
func (c *wsChannel) writeLoop() {
	for {
		select {
		case event := <-c.sendCh:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close signals the writer to stop. Idempotent.
func (c *wsChannel) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// handleHub handles GET /hub: it authenticates the caller, upgrades the
// connection, and registers it for stream events until the client leaves.
// The token is accepted from the Authorization header or, for browser
// clients, the access_token query parameter.
func (g *Gateway) handleHub(w http.ResponseWriter, r *http.Request) {
	token := auth.RequestToken(r)
	if token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	userID, err := g.verifier.Verify(token)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ch := newWSChannel(conn)
	g.registry.Register(userID, ch)
	g.logger.Info("hub connected",
		"user_id", userID,
		"connections", g.registry.Connections(userID))

	go ch.writeLoop()
	g.readLoop(conn, userID, ch)
}

// readLoop consumes client frames until the connection drops. Clients do
// not send meaningful frames on the hub; reading serves to detect close
// and answer pings.
func (g *Gateway) readLoop(conn *websocket.Conn, userID string, ch *wsChannel) {
	defer func() {
		ch.close()
		g.registry.Unregister(userID, ch)
		conn.Close()
		g.logger.Info("hub disconnected",
			"user_id", userID,
			"connections", g.registry.Connections(userID))
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("hub read error", "user_id", userID, "error", err)
			}
			return
		}
	}
}
