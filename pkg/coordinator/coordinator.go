// Package coordinator runs experiments across the connected workers: it
// waits for a start condition, synchronises every worker on a barrier, then
// runs one round per worker in which that worker uploads and the others
// download.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/results"
	"github.com/dfsbench/dfsbench/pkg/state"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

const precheckTimeout = 30 * time.Second

// Config configures a Coordinator.
type Config struct {
	// Listen is the address channels are accepted on.
	Listen string
	// Auto starts an experiment as soon as Connections workers are ready.
	// Otherwise every ready worker is offered to start it.
	Auto        bool
	Connections int
	// BarrierTimeout bounds the wait for every channel to acknowledge
	// experiment-started.
	BarrierTimeout time.Duration
	// ReplayGrace is the delay between a worker reconnecting and the replay
	// of its undelivered action.
	ReplayGrace time.Duration
	// DisconnectTimeout aborts the experiment when a worker of the snapshot
	// stays disconnected this long. Zero waits forever.
	DisconnectTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Auto && c.Connections < 2 {
		return fmt.Errorf("auto mode requires at least 2 connections, got %d", c.Connections)
	}
	if c.BarrierTimeout <= 0 {
		return fmt.Errorf("barrier timeout must be positive")
	}
	if c.ReplayGrace < 0 || c.DisconnectTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// Prechecker verifies a worker's storage node can be reached before letting
// the worker take part.
type Prechecker interface {
	PeerReachable(ctx context.Context, network, address string) (bool, error)
}

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseBarrier Phase = "barrier"
	PhaseRunning Phase = "running"
)

type participant struct {
	identity api.Identity
	conn     *transport.Conn
	order    uint64

	participating bool
	ready         bool
	announced     *api.Descriptor

	lost *time.Timer
}

func (p *participant) connected() bool { return p.conn != nil }

type round struct {
	id        int
	leader    *participant
	workers   []*participant
	uploaded  bool
	upload    json.RawMessage
	finished  map[string]api.Download
	resolving bool
}

type experiment struct {
	gen        int
	descriptor api.Descriptor
	workers    []*participant
	round      round
}

func (e *experiment) member(p *participant) bool {
	for _, w := range e.workers {
		if w == p {
			return true
		}
	}
	return false
}

type barrier struct {
	ackID   string
	pending map[string]bool
	timer   *time.Timer
}

// Coordinator is the server side of the protocol.
//
// Every field below srv is owned by the transport's dispatch goroutine.
type Coordinator struct {
	cfg     Config
	store   *state.Store
	sink    results.Sink
	checker Prechecker
	shadow  *shadow
	log     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	srv    *transport.Server

	phase        Phase
	participants map[string]*participant
	order        uint64
	gen          int
	exp          *experiment
	barrier      *barrier
}

var _ transport.Handler = (*Coordinator)(nil)

// New validates cfg and starts listening. Shadow records found in store are
// resumed; checker may be nil to skip reachability prechecks.
func New(cfg Config, store *state.Store, sink results.Sink, checker Prechecker) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = results.Discard{}
	}

	log := logging.S().With("component", "coordinator")
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:          cfg,
		store:        store,
		sink:         sink,
		checker:      checker,
		shadow:       &shadow{store: store, log: log},
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseIdle,
		participants: make(map[string]*participant),
	}

	srv, err := transport.NewServer(cfg.Listen, c)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	srv.Use(c.shadow)
	srv.Router().HandleFunc("/status", c.serveStatus).Methods("GET")
	c.srv = srv

	// rounds are not persisted, so the actions of an experiment interrupted
	// by a coordinator restart can never be resolved.
	if keys := store.Keys(); len(keys) > 0 {
		log.Warnw("discarding shadow records of an interrupted experiment", "workers", keys)
		if err := store.Clear(); err != nil {
			_ = srv.Shutdown(context.Background())
			cancel()
			return nil, fmt.Errorf("failed to clear shadow records: %w", err)
		}
	}
	return c, nil
}

// Serve accepts worker channels until Shutdown is called.
func (c *Coordinator) Serve() error {
	c.log.Infow("coordinator listening", "addr", c.srv.Addr(), "auto", c.cfg.Auto, "connections", c.cfg.Connections)
	return c.srv.Serve()
}

func (c *Coordinator) Addr() string {
	return c.srv.Addr()
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	return c.srv.Shutdown(ctx)
}

func (c *Coordinator) Connected(conn *transport.Conn) {
	id := conn.Identity.ID
	p, ok := c.participants[id]
	if !ok {
		p = &participant{identity: conn.Identity}
		c.participants[id] = p
	}
	if p.conn != nil && p.conn != conn {
		c.log.Infow("worker connected twice; closing the previous channel", "worker", id)
		p.conn.Close()
	}

	c.order++
	p.order = c.order
	p.conn = conn
	p.identity.User = conn.Identity.User
	if p.lost != nil {
		p.lost.Stop()
		p.lost = nil
	}

	if ok {
		c.log.Infow("worker reconnected", "worker", p.identity)
	}

	if c.shadow.pending(id) != nil {
		c.srv.AfterFunc(c.cfg.ReplayGrace, func() { c.replay(p, conn) })
	}
}

func (c *Coordinator) Disconnected(conn *transport.Conn) {
	p, ok := c.participants[conn.Identity.ID]
	if !ok || p.conn != conn {
		// replaced by a reconnect; it still must not hold the barrier.
		c.release(conn)
		return
	}
	p.conn = nil

	if c.exp == nil || !c.exp.member(p) {
		// readiness is withdrawn; the worker announces itself again when it
		// comes back.
		p.ready, p.participating = false, false
	}

	c.release(conn)

	if c.exp != nil && c.exp.member(p) && c.cfg.DisconnectTimeout > 0 {
		gen := c.exp.gen
		p.lost = c.srv.AfterFunc(c.cfg.DisconnectTimeout, func() {
			if c.exp == nil || c.exp.gen != gen || p.connected() {
				return
			}
			c.abort(fmt.Sprintf("worker %s did not reconnect within %s", p.identity, c.cfg.DisconnectTimeout))
		})
	}
}

func (c *Coordinator) Received(conn *transport.Conn, msg *api.Message) {
	p, ok := c.participants[conn.Identity.ID]
	if !ok || p.conn != conn {
		return
	}

	if msg.IsAck {
		c.acked(conn, msg)
		return
	}
	if msg.AckID != "" {
		_ = conn.Send(msg.Ack())
	}

	switch msg.Event {
	case api.EventRunning:
		c.running(p, conn, msg)
	case api.EventStart:
		c.start(p, msg)
	case api.EventUploaded:
		c.uploaded(p, msg)
	case api.EventDownloaded:
		c.downloaded(p, msg)
	case api.EventClientError:
		var reason string
		if err := msg.Decode(0, &reason); err != nil {
			reason = "unknown client error"
		}
		c.log.Warnw("worker failed", "worker", p.identity, "reason", reason)
		c.abort(reason)
	default:
		c.log.Debugw("ignoring unexpected event", "worker", p.identity, "event", msg.Event)
	}
}

// running handles a worker announcing it wants to take part.
func (c *Coordinator) running(p *participant, conn *transport.Conn, msg *api.Message) {
	var d api.Descriptor
	if err := msg.Decode(0, &d); err != nil {
		c.log.Warnw("invalid running announcement", "worker", p.identity, "error", err)
		return
	}
	p.announced = &d

	if c.exp != nil && c.exp.member(p) {
		// a returning worker of the current experiment; replay covers it.
		return
	}

	if c.checker == nil || d.Network == "" || d.NodeAddress == "" {
		c.prechecked(p, conn, d, true)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, precheckTimeout)
		defer cancel()

		ok, err := c.checker.PeerReachable(ctx, d.Network, d.NodeAddress)
		switch {
		case errors.Is(err, dfs.ErrUnknownNetwork):
			c.log.Debugw("no local node to precheck against; skipping", "worker", p.identity, "network", d.Network)
			ok, err = true, nil
		case err != nil:
			c.log.Warnw("reachability precheck failed", "worker", p.identity, "network", d.Network, "error", err)
		}
		c.srv.Post(func() { c.prechecked(p, conn, d, ok && err == nil) })
	}()
}

func (c *Coordinator) prechecked(p *participant, conn *transport.Conn, d api.Descriptor, reachable bool) {
	if p.conn != conn {
		return
	}
	if !reachable {
		p.participating, p.ready = false, false
		c.log.Infow("excluding unreachable worker", "worker", p.identity, "network", d.Network, "address", d.NodeAddress)
		_ = conn.Send(api.MustMessage(api.EventError, fmt.Sprintf("Could not connect to your %s address.", d.Network)))
		return
	}

	p.participating, p.ready = true, true
	if c.phase == PhaseIdle {
		c.offer(p)
	}
}

// offer lets p start an experiment: immediately in interactive mode, once
// the quorum is reached in auto mode.
func (c *Coordinator) offer(p *participant) {
	if !c.cfg.Auto {
		_ = p.conn.Send(api.MustMessage(api.EventInteractiveStart))
		return
	}

	var (
		count int
		first *participant
	)
	for _, q := range c.participants {
		if !q.connected() || !q.participating || !q.ready {
			continue
		}
		count++
		if first == nil || q.order < first.order {
			first = q
		}
	}
	c.log.Debugw("quorum", "ready", count, "required", c.cfg.Connections)
	if count < c.cfg.Connections {
		return
	}

	for _, q := range c.participants {
		q.ready = false
	}
	c.log.Infow("quorum reached; asking first worker to start", "worker", first.identity)
	_ = first.conn.Send(api.MustMessage(api.EventAutomatedStart))
}

// dispatch sends msg to p, or records it for replay when p is offline.
func (c *Coordinator) dispatch(p *participant, msg *api.Message) {
	if p.connected() {
		if err := p.conn.Send(msg); err == nil {
			return
		}
	}
	c.log.Infow("worker offline; action queued for replay", "worker", p.identity, "event", msg.Event)
	c.shadow.dispatched(p.identity.ID, msg)
}

func (c *Coordinator) replay(p *participant, conn *transport.Conn) {
	if p.conn != conn || c.exp == nil {
		return
	}
	msg := c.shadow.pending(p.identity.ID)
	if msg == nil {
		return
	}
	c.log.Infow("replaying undelivered action", "worker", p.identity, "event", msg.Event)
	_ = conn.Send(msg)
}
