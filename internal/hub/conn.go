package hub

import "github.com/oklog/ulid/v2"

// Conn is the hub's handle on one live transport. The hub never touches the
// socket itself; it fills the outbox and the transport's write pump drains
// it. A closed outbox tells the pump the hub is done with this connection.
type Conn struct {
	ID     string
	outbox chan []byte
	closed bool
}

func NewConn() *Conn {
	return &Conn{
		ID:     ulid.Make().String(),
		outbox: make(chan []byte, 32),
	}
}

// Outbox is drained by the transport's write pump; it is closed when the hub
// drops the connection.
func (c *Conn) Outbox() <-chan []byte { return c.outbox }

// trySend queues a frame without blocking the hub loop. Only the hub loop
// calls this, so the closed check cannot race.
func (c *Conn) trySend(data []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) closeOutbox() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}
