package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

// Client is the worker side of a channel.
type Client struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger

	in chan *api.Message

	errOnce sync.Once
	err     error
}

// URL builds the websocket URL of a coordinator endpoint ("host:port", or a
// full ws:// or http:// URL) for the given identity.
func URL(endpoint string, id api.Identity) (string, error) {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://"):
		endpoint = "ws://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = Path
	}
	q := u.Query()
	q.Set("id", id.ID)
	q.Set("user", id.User)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a channel to the coordinator at endpoint.
func Dial(ctx context.Context, endpoint string, id api.Identity) (*Client, error) {
	u, err := URL(endpoint, id)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	ws.SetReadLimit(readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:     ws,
		ctx:    cctx,
		cancel: cancel,
		log:    logging.S().With("coordinator", endpoint, "worker", id.String()),
		in:     make(chan *api.Message, sendBuffer),
	}
	go c.consumeMessages()
	return c, nil
}

// Send writes msg to the coordinator.
func (c *Client) Send(ctx context.Context, msg *api.Message) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Event, err)
	}
	c.log.Debugw("sent", "event", msg.Event, "ack_id", msg.AckID, "is_ack", msg.IsAck)
	return nil
}

// Receive returns the channel of inbound messages. It is closed when the
// connection ends; Err then tells why.
func (c *Client) Receive() <-chan *api.Message {
	return c.in
}

// Err returns the reason the connection ended, or nil while it is open or if
// it was closed with Close.
func (c *Client) Err() error {
	select {
	case <-c.ctx.Done():
		return c.err
	default:
		return nil
	}
}

// Close terminates the channel.
func (c *Client) Close() error {
	c.fail(nil)
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	return err
}

// fail records the first reason the channel ended.
func (c *Client) fail(err error) {
	c.errOnce.Do(func() { c.err = err })
}

func (c *Client) consumeMessages() {
	defer close(c.in)
	for {
		var msg *api.Message
		if err := wsjson.Read(c.ctx, c.ws, &msg); err != nil {
			c.log.Debugw("connection ended", "error", err)
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			c.cancel()
			return
		}
		if msg == nil || msg.Event == "" {
			continue
		}
		c.log.Debugw("received", "event", msg.Event, "ack_id", msg.AckID, "is_ack", msg.IsAck)

		select {
		case c.in <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}
