package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pollcast/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// Default write settings used when NewConnection is given zero values
const (
	DefaultBufferSize   = 100
	DefaultWriteTimeout = 5 * time.Second
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	id           string
	remoteAddr   string
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs a burst of room broadcasts
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn and starts its writer goroutine. remoteAddr is
// the source address used for rate limiting.
func NewConnection(conn *websocket.Conn, remoteAddr string, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		id:           uuid.New().String(),
		remoteAddr:   remoteAddr,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			// A failed write means the peer is gone; closing also unblocks
			// the read pump so the session can disconnect
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Ping sends a websocket ping control frame.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the connection's process-unique id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the source address resolved at upgrade time.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
