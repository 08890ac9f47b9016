package main

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paddleserve/broker/internal/logging"
	"paddleserve/broker/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Client wraps one websocket connection with a buffered outbound pump so a
// slow consumer can never stall a room broadcast.
type Client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	log    *logging.Logger
}

func newClient(conn *websocket.Conn, userID string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.L()
	}
	return &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		log:    logger.With(logging.String("user_id", userID)),
	}
}

// UserID returns the authenticated identity behind the socket.
func (c *Client) UserID() string { return c.userID }

// Send queues a payload for delivery, reporting false when the client is
// gone or its buffer is full. Sends are fire-and-forget: a full buffer drops
// the frame rather than blocking the broadcaster.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// CloseWithCode pushes a policy close frame and tears the connection down.
func (c *Client) CloseWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	c.shutdown()
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. It owns all writes to the socket.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump delivers decoded inbound frames to the handler until the
// connection dies. Malformed frames are logged and skipped; the connection
// stays open.
func (c *Client) readPump(maxPayload int64, pongWait time.Duration, handle func(*protocol.ClientMessage)) {
	defer c.shutdown()
	if maxPayload > 0 {
		c.conn.SetReadLimit(maxPayload)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Debug("inbound frame rejected", logging.Error(err))
			c.Send(protocol.Encode(protocol.Errorf(err.Error())))
			continue
		}
		handle(msg)
	}
}
