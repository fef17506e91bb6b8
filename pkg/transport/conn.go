package transport

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// Conn is the server side of one websocket channel.
type Conn struct {
	// ID is unique per channel; a reconnecting worker gets a new one.
	ID string
	// Identity is what the worker presented when it connected.
	Identity api.Identity

	srv    *Server
	ws     *websocket.Conn
	out    chan *api.Message
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
}

// Send runs the outbound interceptors and queues msg for delivery. It must
// be called on the dispatch goroutine. A connection that cannot keep up with
// its queue is closed.
func (c *Conn) Send(msg *api.Message) error {
	for _, i := range c.srv.interceptors {
		i.Outbound(c, msg)
	}

	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	default:
		c.log.Warnw("send queue full; closing connection", "event", msg.Event)
		c.Close()
		return ErrClosed
	}
}

// Close terminates the channel. The handler is notified of the disconnection
// as usual.
func (c *Conn) Close() {
	c.cancel()
}

// Done is closed once the channel is terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Conn) consumeMessages() error {
	for {
		var msg *api.Message
		if err := wsjson.Read(c.ctx, c.ws, &msg); err != nil {
			return err
		}
		if msg == nil || msg.Event == "" {
			c.log.Debugw("dropping malformed message")
			continue
		}

		c.log.Debugw("received", "event", msg.Event, "ack_id", msg.AckID, "is_ack", msg.IsAck)
		if !c.srv.Post(func() { c.srv.deliver(c, msg) }) {
			return ErrShutdown
		}
	}
}

func (c *Conn) produceMessages() error {
	for {
		select {
		case msg := <-c.out:
			if err := c.writeTimeout(msg); err != nil {
				return err
			}
			c.log.Debugw("sent", "event", msg.Event, "ack_id", msg.AckID, "is_ack", msg.IsAck)
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *Conn) writeTimeout(msg *api.Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, msg)
}

// closedByPeer returns true if err is the expected outcome of the remote end
// (or us) closing the channel.
func closedByPeer(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrShutdown) ||
		websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway
}
