package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabhub/pkg/types"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id            string
	conn          *websocket.Conn
	writeCh       chan []byte // FUNCTIONAL DISCOVERY: bounded so one slow reader cannot stall a broadcast
	writeTimeout  time.Duration
	identity      *types.Identity // Set after authentication
	credential    string          // Raw bearer credential, re-checked on join
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // Protect auth fields
}

// NewConnection wraps an upgraded websocket and starts its writer
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed; the loop exits on cancellation so late writers cannot panic
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Peer is gone; closing makes the read pump exit and run disconnect cleanup
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the identifier assigned when the transport connected
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON queues v for the writer without blocking
// FUNCTIONAL DISCOVERY: Broadcasts hold the delivery lock while writing, so a full
// buffer fails fast with ErrSendBufferFull instead of waiting on a slow client
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

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
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

// CloseWithReason sends a policy-violation close frame before closing
// TECHNICAL DISCOVERY: WriteControl is safe to call concurrently with the writer goroutine
func (c *Connection) CloseWithReason(reason string) error {
	if c.IsClosed() {
		return nil
	}
	if c.conn != nil {
		// Close frame payloads are capped at 125 bytes including the 2-byte code
		if len(reason) > 123 {
			reason = reason[:123]
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return c.Close()
}

// IsClosed reports whether Close has run
func (c *Connection) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// SetCredentials attaches the authenticated identity and its credential
func (c *Connection) SetCredentials(identity *types.Identity, credential string) error {
	if identity == nil || identity.ID == "" {
		return ErrConnectionNotAuthenticated
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copied := *identity
	c.identity = &copied
	c.credential = credential
	c.authenticated = true

	return nil
}

func (c *Connection) Identity() *types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}
