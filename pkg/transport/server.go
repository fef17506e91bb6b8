package transport

import (
	"context"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
)

// Server accepts websocket channels and dispatches their events to a
// Handler, one at a time.
type Server struct {
	handler      Handler
	interceptors []Interceptor

	router *mux.Router
	server *http.Server
	l      net.Listener
	log    *zap.SugaredLogger

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// only accessed on the dispatch goroutine.
	conns map[string]*Conn
	seq   map[string]uint64
	next  uint64
}

// NewServer listens on addr and starts the dispatch goroutine. Channels are
// only accepted once Serve is called.
func NewServer(addr string, h Handler) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler: h,
		router:  mux.NewRouter(),
		l:       l,
		log:     logging.S().With("listen", l.Addr().String()),
		events:  make(chan func(), 1024),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		conns:   make(map[string]*Conn),
		seq:     make(map[string]uint64),
	}
	s.router.HandleFunc(Path, s.accept)
	s.server = &http.Server{Handler: s.router}

	go s.dispatch()
	return s, nil
}

// Use attaches interceptors. It must be called before Serve.
func (s *Server) Use(i ...Interceptor) {
	s.interceptors = append(s.interceptors, i...)
}

// Router exposes the HTTP router, to mount extra endpoints next to the
// websocket path.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Serve accepts channels until the server is shut down.
func (s *Server) Serve() error {
	err := s.server.Serve(s.l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Addr() string {
	return s.l.Addr().String()
}

func (s *Server) Port() int {
	return s.l.Addr().(*net.TCPAddr).Port
}

// Post queues fn for execution on the dispatch goroutine. It returns false
// if the server is shutting down, in which case fn never runs.
func (s *Server) Post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// AfterFunc runs fn on the dispatch goroutine once d has elapsed, unless the
// returned timer is stopped first.
func (s *Server) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { s.Post(fn) })
}

// Conns returns the open channels in connection order. It must be called on
// the dispatch goroutine.
func (s *Server) Conns() []*Conn {
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] < s.seq[out[j].ID] })
	return out
}

// Broadcast sends msg to every open channel. It must be called on the
// dispatch goroutine.
func (s *Server) Broadcast(msg *api.Message) {
	for _, c := range s.Conns() {
		_ = c.Send(msg.Clone())
	}
}

// Shutdown closes every channel, stops accepting new ones and stops the
// dispatch goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	err := s.server.Shutdown(ctx)
	select {
	case <-s.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) dispatch() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) deliver(c *Conn, msg *api.Message) {
	if _, ok := s.conns[c.ID]; !ok {
		// the channel was closed after the message was read.
		return
	}
	for _, i := range s.interceptors {
		i.Inbound(c, msg)
	}
	s.handler.Received(c, msg)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := api.Identity{ID: q.Get("id"), User: q.Get("user")}
	if id.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // workers connect from anywhere.
	})
	if err != nil {
		s.log.Warnf("could not upgrade connection: %v", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	c := &Conn{
		ID:       xid.New().String(),
		Identity: id,
		srv:      s,
		ws:       ws,
		out:      make(chan *api.Message, sendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.log = s.log.With("conn", c.ID, "worker", id.String())

	if !s.Post(func() {
		s.next++
		s.seq[c.ID] = s.next
		s.conns[c.ID] = c
		s.handler.Connected(c)
	}) {
		_ = ws.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	c.log.Infow("worker connected")

	go func() {
		if err := c.produceMessages(); err != nil && !closedByPeer(err) {
			c.log.Warnw("failed to write to worker", "error", err)
		}
		c.cancel()
	}()
	err = c.consumeMessages()
	cancel()

	s.Post(func() {
		delete(s.conns, c.ID)
		delete(s.seq, c.ID)
		s.handler.Disconnected(c)
	})

	if err == nil || closedByPeer(err) {
		c.log.Infow("worker disconnected")
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return
	}

	c.log.Warnw("websocket closed unexpectedly", "error", err)
	_ = ws.Close(websocket.StatusInternalError, "")
}
