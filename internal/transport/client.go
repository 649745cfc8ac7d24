package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection. Its channel id is the address the
// controller emits to.
type Client struct {
	channel  string
	identity string
	conn     *websocket.Conn
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
	done   chan struct{}
}

func newClient(logger *zap.Logger, conn *websocket.Conn, channel, identity string, queueSize int) *Client {
	return &Client{
		channel:  channel,
		identity: identity,
		conn:     conn,
		logger:   logger.With(zap.String("channel", channel), zap.String("identity", identity)),
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// Channel returns the client's channel id
func (c *Client) Channel() string {
	return c.channel
}

// enqueue queues msg without blocking. It reports false when the client is
// closed or its queue is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops accepting messages. The write pump drains what is queued and
// then sends a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump delivers inbound frames to handle until the connection fails.
func (c *Client) readPump(pongWait time.Duration, handle func(msg []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		handle(msg)
	}
}

// writePump writes queued messages and keeps the connection alive with pings.
// It owns every write on the connection.
func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
