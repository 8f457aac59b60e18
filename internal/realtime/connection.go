package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 * 1024
)

// ErrConnectionClosed is returned by Send once the socket is gone.
var ErrConnectionClosed = errors.New("connection closed")

var errMalformedFrame = errors.New("malformed frame")

// Connection owns one authenticated websocket. All outbound writes go
// through a buffered channel drained by a single write loop, so it is safe
// to Send from any goroutine. A full buffer closes the connection rather
// than blocking publishers.
type Connection struct {
	ID     string
	UserID string

	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewConnection(userID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

// Start launches the write loop. Call exactly once, after the connection is
// attached to the hub.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues a raw frame for delivery.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("send buffer exceeded")
	}
}

// SendFrame marshals payload into a frame for destination and enqueues it.
func (c *Connection) SendFrame(destination string, payload any) error {
	raw, err := EncodeFrame(destination, payload)
	if err != nil {
		return err
	}
	return c.Send(raw)
}

// Close tears the socket down once; later calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.SetWriteDeadline(deadline)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadFrame blocks for the next inbound frame. The read deadline advances
// on every pong so idle-but-alive clients survive.
func (c *Connection) ReadFrame() (*Frame, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errMalformedFrame
	}
	return &f, nil
}

func (c *Connection) configureRead() {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
