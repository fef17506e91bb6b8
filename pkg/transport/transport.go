// Package transport carries api.Messages between workers and the coordinator
// over websockets.
//
// On the coordinator, every connection event, inbound message and timer is
// funnelled through a single dispatch goroutine. Handlers and interceptors
// therefore never run concurrently with each other and need no locking.
package transport

import (
	"errors"
	"time"

	"github.com/dfsbench/dfsbench/pkg/api"
)

const (
	// Path is the HTTP path websocket channels are served on.
	Path = "/ws"

	writeTimeout = 10 * time.Second
	readLimit    = 1 << 20
	sendBuffer   = 64
)

var (
	ErrClosed   = errors.New("connection closed")
	ErrShutdown = errors.New("server shut down")
)

// Handler receives connection lifecycle events and messages. All methods are
// called on the dispatch goroutine.
type Handler interface {
	Connected(c *Conn)
	Disconnected(c *Conn)
	Received(c *Conn, msg *api.Message)
}

// Interceptor observes every message crossing a connection. Outbound runs
// in Conn.Send before the message is queued; Inbound runs before
// Handler.Received. Both run on the dispatch goroutine.
type Interceptor interface {
	Outbound(c *Conn, msg *api.Message)
	Inbound(c *Conn, msg *api.Message)
}
