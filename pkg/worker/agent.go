// Package worker implements the worker side of the protocol: it announces
// itself to the coordinator, uploads or downloads when asked to, and makes
// every action idempotent across crashes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/experiment"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/state"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

const (
	// localKey is the key of the worker's own record in its state store.
	localKey = "client"

	maxReconnectDelay = 30 * time.Second
)

var ErrNotConnected = errors.New("worker is not connected")

// FailureError is returned by Run when the experiment failed, with the
// reason given by the coordinator.
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return "experiment failed: " + e.Reason
}

// Config configures an Agent.
type Config struct {
	Endpoint string
	Identity api.Identity
	// PropagationDelay is waited after an upload before reporting it, giving
	// the network time to announce the content.
	PropagationDelay time.Duration
	// ReconnectDelay is the initial delay between reconnection attempts. It
	// doubles on every failure.
	ReconnectDelay time.Duration
	// Trigger is consulted on interactive-start. Nil starts immediately.
	Trigger Trigger
}

// Agent is a worker's connection to the coordinator.
type Agent struct {
	cfg   Config
	local *state.Entry
	log   *zap.SugaredLogger

	mu      sync.Mutex
	client  *transport.Client
	closing bool

	// actions currently executing, by event and round. Only accessed by the
	// goroutine executing Run.
	inflight map[string]bool
}

// New creates an agent persisting its record in store.
func New(cfg Config, store *state.Store) *Agent {
	if cfg.Trigger == nil {
		cfg.Trigger = Immediately
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &Agent{
		cfg:      cfg,
		local:    store.Entry(localKey),
		log:      logging.S().With("worker", cfg.Identity.String()),
		inflight: make(map[string]bool),
	}
}

func (a *Agent) Identity() api.Identity {
	return a.cfg.Identity
}

// Connect opens the channel to the coordinator.
func (a *Agent) Connect(ctx context.Context) error {
	c, err := transport.Dial(ctx, a.cfg.Endpoint, a.cfg.Identity)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		_ = a.client.Close()
	}
	a.client, a.closing = c, false
	a.log.Infow("connected to coordinator", "endpoint", a.cfg.Endpoint)
	return nil
}

// Disconnect closes the channel. A Run in progress returns.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closing = true
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func (a *Agent) current() (*transport.Client, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, a.closing
}

// drop closes the channel after the coordinator failed the experiment.
// Unlike Disconnect, the agent may connect again for the next experiment.
func (a *Agent) drop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		_ = a.client.Close()
		a.client = nil
	}
}

// dial connects with back-off until it succeeds, ctx ends or the agent is
// disconnected.
func (a *Agent) dial(ctx context.Context) error {
	delay := a.cfg.ReconnectDelay
	for {
		if _, closing := a.current(); closing {
			return ErrNotConnected
		}
		err := a.Connect(ctx)
		if err == nil {
			return nil
		}
		a.log.Debugw("connection failed", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// ensureConnected redials a channel dropped by a failed experiment. It
// returns ErrNotConnected once Disconnect was called.
func (a *Agent) ensureConnected(ctx context.Context) error {
	client, closing := a.current()
	switch {
	case closing:
		return ErrNotConnected
	case client != nil:
		return nil
	}
	return a.dial(ctx)
}

// Run takes part in one experiment described by d, using m to upload and
// download. It returns nil once the coordinator reports the experiment
// finished, a *FailureError if the coordinator aborted it, or another error
// if the worker could not take part. A finished experiment the worker was
// not part of is ignored. A failure closes the channel, so Connect again
// before the next Run.
func (a *Agent) Run(ctx context.Context, d api.Descriptor, m experiment.Methods) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid experiment descriptor: %w", err)
	}
	client, _ := a.current()
	if client == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		Agent:   a,
		ctx:     ctx,
		desc:    d,
		methods: m,
		client:  client,
		posted:  make(chan func(), 16),
		log:     a.log.With("experiment", d.Name, "network", d.Network),
		// a record left by a previous process means we restarted in the
		// middle of an experiment we take part in.
		member: !a.local.Get().IsEmpty(),
	}
	defer r.stopTrigger()

	r.send(api.MustMessage(api.EventRunning, d))
	r.log.Infow("waiting for the experiment to start")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fn := <-r.posted:
			fn()

		case msg, ok := <-r.client.Receive():
			if !ok {
				if err := r.reconnect(); err != nil {
					return err
				}
				continue
			}
			done, err := r.handle(msg)
			if done {
				return err
			}
		}
	}
}

// run is the state of one Run call. Its methods are only called by the
// goroutine executing Run.
type run struct {
	*Agent

	ctx     context.Context
	desc    api.Descriptor
	methods experiment.Methods
	client  *transport.Client
	posted  chan func()
	log     *zap.SugaredLogger

	barrier bool
	// member is set once this worker is known to take part in the
	// experiment in progress.
	member        bool
	triggerCancel context.CancelFunc
}

// post queues fn for execution by the Run goroutine.
func (r *run) post(fn func()) {
	select {
	case r.posted <- fn:
	case <-r.ctx.Done():
	}
}

func (r *run) send(msg *api.Message) {
	if err := r.client.Send(r.ctx, msg); err != nil {
		// the coordinator replays undelivered actions once we are back.
		r.log.Warnw("failed to send to coordinator", "event", msg.Event, "error", err)
	}
}

func (r *run) handle(msg *api.Message) (done bool, err error) {
	switch msg.Event {
	// start offers are only made while no experiment is in progress, so a
	// barrier seen before one belongs to an abandoned attempt.
	case api.EventAutomatedStart:
		r.barrier, r.member = false, false
		r.log.Infow("quorum reached; starting experiment")
		r.send(api.MustMessage(api.EventStart, r.desc))

	case api.EventInteractiveStart:
		r.barrier, r.member = false, false
		if r.triggerCancel == nil {
			r.waitTrigger()
		}

	case api.EventExperimentStarted:
		// acknowledge first; the coordinator holds every round until all
		// channels have.
		r.send(msg.Ack())
		r.barrier, r.member = true, true
		r.stopTrigger()
		if err := r.local.Clear(); err != nil {
			r.log.Errorw("failed to reset local record", "error", err)
		}
		r.log.Infow("experiment started")

	case api.EventUpload:
		var round int
		if err := msg.Decode(0, &round); err != nil {
			r.log.Warnw("invalid upload request", "error", err)
			return false, nil
		}
		r.act(api.EventUpload, round, func(ctx context.Context) (interface{}, error) {
			return r.methods.Upload(ctx)
		})

	case api.EventDownload:
		var (
			round int
			u     api.Upload
		)
		if err := msg.Decode(0, &round); err != nil {
			r.log.Warnw("invalid download request", "error", err)
			return false, nil
		}
		if err := msg.Decode(1, &u); err != nil {
			r.log.Warnw("invalid download request", "error", err)
			return false, nil
		}
		r.act(api.EventDownload, round, func(ctx context.Context) (interface{}, error) {
			return r.methods.Download(ctx, u)
		})

	case api.EventError, api.EventClientError:
		var reason string
		if err := msg.Decode(0, &reason); err != nil {
			reason = "unknown error"
		}
		if err := r.local.Clear(); err != nil {
			r.log.Errorw("failed to reset local record", "error", err)
		}
		r.log.Warnw("experiment failed", "reason", reason)
		r.drop()
		return true, &FailureError{Reason: reason}

	case api.EventExperimentFinished:
		if !r.member {
			r.log.Infow("an experiment we did not take part in finished; still waiting")
			return false, nil
		}
		if err := r.local.Clear(); err != nil {
			return true, fmt.Errorf("failed to clear local record: %w", err)
		}
		r.log.Infow("experiment finished")
		return true, nil

	default:
		r.log.Debugw("ignoring unexpected event", "event", msg.Event)
	}
	return false, nil
}

// act runs an upload or download for round at most once. A completed action
// is answered from the local record; a duplicate of a running action is
// dropped.
func (r *run) act(event string, round int, call func(ctx context.Context) (interface{}, error)) {
	response := api.Responses[event]

	if rec := r.local.Get(); rec.Event == response && rec.RoundIs(round) {
		r.log.Infow("action already completed; re-sending result", "event", event, "round", round)
		r.send(&api.Message{Event: response, Args: rec.Args})
		return
	}

	r.member = true
	key := fmt.Sprintf("%s/%d", event, round)
	if r.inflight[key] {
		r.log.Debugw("action already running; dropping duplicate", "event", event, "round", round)
		return
	}
	r.inflight[key] = true
	r.log.Infow("executing action", "event", event, "round", round)

	go func() {
		result, err := call(r.ctx)
		r.post(func() { r.completed(event, round, key, result, err) })
	}()
}

func (r *run) completed(event string, round int, key string, result interface{}, err error) {
	delete(r.inflight, key)
	response := api.Responses[event]

	if err != nil {
		r.log.Errorw("action failed", "event", event, "round", round, "error", err)
		r.send(api.MustMessage(api.EventClientError, err.Error()))
		return
	}

	b, err := json.Marshal(result)
	if err != nil {
		r.send(api.MustMessage(api.EventClientError, err.Error()))
		return
	}
	rec, err := r.local.Set(state.Patch{
		Event: state.String(response),
		Round: state.Int(round),
		Args:  []json.RawMessage{b},
	})
	if err != nil {
		r.log.Errorw("failed to persist action result", "event", event, "round", round, "error", err)
		r.send(api.MustMessage(api.EventClientError, err.Error()))
		return
	}

	msg := &api.Message{Event: response, Args: rec.Args}
	if event != api.EventUpload || r.cfg.PropagationDelay <= 0 {
		r.send(msg)
		return
	}
	time.AfterFunc(r.cfg.PropagationDelay, func() {
		r.post(func() { r.send(msg) })
	})
}

func (r *run) waitTrigger() {
	ctx, cancel := context.WithCancel(r.ctx)
	r.triggerCancel = cancel

	go func() {
		err := r.cfg.Trigger.Wait(ctx, r.desc)
		r.post(func() {
			r.stopTrigger()
			switch {
			case r.barrier:
			case err == nil:
				r.log.Infow("starting experiment")
				r.send(api.MustMessage(api.EventStart, r.desc))
			case errors.Is(err, ErrDeclined):
				r.log.Infow("start declined; waiting for another worker to start")
			case !errors.Is(err, context.Canceled):
				r.log.Warnw("start trigger failed", "error", err)
			}
		})
	}()
}

func (r *run) stopTrigger() {
	if r.triggerCancel != nil {
		r.triggerCancel()
		r.triggerCancel = nil
	}
}

// reconnect redials the coordinator with the same identity after the
// channel was lost.
func (r *run) reconnect() error {
	if _, closing := r.current(); closing {
		return ErrNotConnected
	}
	r.log.Warnw("lost connection to coordinator; reconnecting", "error", r.client.Err())

	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-time.After(r.cfg.ReconnectDelay):
	}
	if err := r.dial(r.ctx); err != nil {
		return err
	}

	client, closing := r.current()
	if closing || client == nil {
		return ErrNotConnected
	}
	r.client = client
	if !r.barrier {
		r.send(api.MustMessage(api.EventRunning, r.desc))
	}
	return nil
}
