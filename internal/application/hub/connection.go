package hub

import (
	"sync"
	"time"
)

// Connection is one live transport session owned by the Hub.
type Connection struct {
	id          uint64
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// announced is guarded by the owning Hub's mutex
	announced bool
}

func newConnection(id uint64, now time.Time, buffer int) *Connection {
	return &Connection{
		id:          id,
		connectedAt: now,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// ID returns the identifier assigned at accept time.
func (c *Connection) ID() uint64 {
	return c.id
}

// ConnectedAt returns when the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Outbound yields encoded envelopes in the order the hub queued them.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the hub has dropped the connection.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues msg without blocking and reports whether it fit.
func (c *Connection) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
