package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/state"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

// fakeCoordinator records what workers send and lets tests send to them.
type fakeCoordinator struct {
	srv   *transport.Server
	conns chan *transport.Conn
	gone  chan *transport.Conn
	msgs  chan *api.Message
}

func (f *fakeCoordinator) Connected(c *transport.Conn)    { f.conns <- c }
func (f *fakeCoordinator) Disconnected(c *transport.Conn) { f.gone <- c }
func (f *fakeCoordinator) Received(_ *transport.Conn, msg *api.Message) {
	f.msgs <- msg
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()

	f := &fakeCoordinator{
		conns: make(chan *transport.Conn, 8),
		gone:  make(chan *transport.Conn, 8),
		msgs:  make(chan *api.Message, 64),
	}
	srv, err := transport.NewServer("127.0.0.1:0", f)
	require.NoError(t, err)
	f.srv = srv
	go func() { _ = srv.Serve() }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return f
}

func (f *fakeCoordinator) conn(t *testing.T) *transport.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func (f *fakeCoordinator) send(c *transport.Conn, msg *api.Message) {
	f.srv.Post(func() { _ = c.Send(msg) })
}

// expect skips messages until one for event arrives.
func (f *fakeCoordinator) expect(t *testing.T, event string) *api.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-f.msgs:
			if m.Event == event {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return nil
		}
	}
}

type fakeMethods struct {
	uploads   int32
	downloads int32
	gate      chan struct{}
	err       error
}

func (m *fakeMethods) Upload(ctx context.Context) (api.Upload, error) {
	atomic.AddInt32(&m.uploads, 1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return api.Upload{}, ctx.Err()
		}
	}
	if m.err != nil {
		return api.Upload{}, m.err
	}
	return api.Upload{IDs: []string{"id1", "id2"}}, nil
}

func (m *fakeMethods) Download(_ context.Context, u api.Upload) (api.Download, error) {
	atomic.AddInt32(&m.downloads, 1)
	if m.err != nil {
		return api.Download{}, m.err
	}
	var d api.Download
	for _, id := range u.IDs {
		d.Results = append(d.Results, api.Stat{ID: id, Size: 10, Latency: time.Millisecond})
	}
	return d, nil
}

var testDescriptor = api.Descriptor{Name: "normal", Network: "ipfs", NodeAddress: "node-a"}

type harness struct {
	coord *fakeCoordinator
	store *state.Store
	agent *Agent
	done  chan error
}

func startAgent(t *testing.T, store *state.Store, m *fakeMethods, cfg Config) *harness {
	t.Helper()

	h := &harness{coord: newFakeCoordinator(t), store: store, done: make(chan error, 1)}
	if h.store == nil {
		var err error
		h.store, err = state.OpenMem()
		require.NoError(t, err)
	}
	cfg.Endpoint = h.coord.srv.Addr()
	cfg.Identity = api.Identity{ID: "w1", User: "alice"}
	cfg.ReconnectDelay = 10 * time.Millisecond
	h.agent = New(cfg, h.store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = h.agent.Disconnect()
	})
	require.NoError(t, h.agent.Connect(ctx))

	go func() { h.done <- h.agent.Run(ctx, testDescriptor, m) }()
	return h
}

func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func TestRunAnnouncesAndAcknowledgesBarrier(t *testing.T) {
	h := startAgent(t, nil, &fakeMethods{}, Config{})
	c := h.coord.conn(t)

	msg := h.coord.expect(t, api.EventRunning)
	var d api.Descriptor
	require.NoError(t, msg.Decode(0, &d))
	require.Equal(t, testDescriptor, d)

	started := api.MustMessage(api.EventExperimentStarted)
	started.AckID = "ack-1"
	h.coord.send(c, started)

	ack := h.coord.expect(t, api.EventExperimentStarted)
	require.True(t, ack.IsAck)
	require.Equal(t, "ack-1", ack.AckID)

	h.coord.send(c, api.MustMessage(api.EventExperimentFinished))
	require.NoError(t, h.result(t))
}

func TestRunUploadsOnce(t *testing.T) {
	m := &fakeMethods{gate: make(chan struct{})}
	h := startAgent(t, nil, m, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	// the duplicate arrives while the first upload is still running.
	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&m.uploads) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(m.gate)

	msg := h.coord.expect(t, api.EventUploaded)
	var u api.Upload
	require.NoError(t, msg.Decode(0, &u))
	require.Equal(t, []string{"id1", "id2"}, u.IDs)

	rec := h.store.Get(localKey)
	require.Equal(t, api.EventUploaded, rec.Event)
	require.True(t, rec.RoundIs(1))

	// a replay after completion is answered from the local record.
	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	again := h.coord.expect(t, api.EventUploaded)
	require.Equal(t, msg.Args, again.Args)
	require.EqualValues(t, 1, atomic.LoadInt32(&m.uploads))

	h.coord.send(c, api.MustMessage(api.EventExperimentFinished))
	require.NoError(t, h.result(t))
	require.True(t, h.store.Get(localKey).IsEmpty())
}

func TestRunAnswersFromRecordAfterRestart(t *testing.T) {
	store, err := state.OpenMem()
	require.NoError(t, err)

	cached, err := json.Marshal(api.Download{Results: []api.Stat{{ID: "id1", Size: 1}}})
	require.NoError(t, err)
	_, err = store.Set(localKey, state.Patch{
		Event: state.String(api.EventDownloaded),
		Round: state.Int(2),
		Args:  []json.RawMessage{cached},
	})
	require.NoError(t, err)

	m := &fakeMethods{}
	h := startAgent(t, store, m, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c, api.MustMessage(api.EventDownload, 2, api.Upload{IDs: []string{"id1"}}))
	msg := h.coord.expect(t, api.EventDownloaded)
	require.JSONEq(t, string(cached), string(msg.Args[0]))
	require.Zero(t, atomic.LoadInt32(&m.downloads))

	// a different round is executed.
	h.coord.send(c, api.MustMessage(api.EventDownload, 3, api.Upload{IDs: []string{"id9"}}))
	msg = h.coord.expect(t, api.EventDownloaded)
	var d api.Download
	require.NoError(t, msg.Decode(0, &d))
	require.Equal(t, "id9", d.Results[0].ID)
	require.EqualValues(t, 1, atomic.LoadInt32(&m.downloads))
}

func TestRunReportsCollaboratorFailure(t *testing.T) {
	m := &fakeMethods{err: errors.New("node unreachable")}
	h := startAgent(t, nil, m, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	msg := h.coord.expect(t, api.EventClientError)
	var reason string
	require.NoError(t, msg.Decode(0, &reason))
	require.Equal(t, "node unreachable", reason)
	require.True(t, h.store.Get(localKey).IsEmpty())
}

func TestRunFailsOnError(t *testing.T) {
	h := startAgent(t, nil, &fakeMethods{}, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	h.coord.expect(t, api.EventUploaded)

	h.coord.send(c, api.MustMessage(api.EventError, "Could not connect to your ipfs address."))
	err := h.result(t)

	var failure *FailureError
	require.True(t, errors.As(err, &failure))
	require.Equal(t, "Could not connect to your ipfs address.", failure.Reason)
	require.True(t, h.store.Get(localKey).IsEmpty())

	// the channel is closed, but the agent can connect again.
	select {
	case gone := <-h.coord.gone:
		require.Equal(t, c.ID, gone.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("channel still open after the failure")
	}
	client, closing := h.agent.current()
	require.Nil(t, client)
	require.False(t, closing)

	require.NoError(t, h.agent.ensureConnected(context.Background()))
	require.Equal(t, "w1", h.coord.conn(t).Identity.ID)
}

func TestRunStartsOnAutomatedStart(t *testing.T) {
	h := startAgent(t, nil, &fakeMethods{}, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c, api.MustMessage(api.EventAutomatedStart))
	msg := h.coord.expect(t, api.EventStart)
	var d api.Descriptor
	require.NoError(t, msg.Decode(0, &d))
	require.Equal(t, testDescriptor.Name, d.Name)
}

func TestRunWaitsForTrigger(t *testing.T) {
	var (
		mu      sync.Mutex
		release = make(chan struct{})
		waited  int
	)
	trigger := TriggerFunc(func(ctx context.Context, _ api.Descriptor) error {
		mu.Lock()
		waited++
		mu.Unlock()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	h := startAgent(t, nil, &fakeMethods{}, Config{Trigger: trigger})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c, api.MustMessage(api.EventInteractiveStart))
	h.coord.send(c, api.MustMessage(api.EventInteractiveStart))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return waited == 1
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	h.coord.expect(t, api.EventStart)

	mu.Lock()
	require.Equal(t, 1, waited)
	mu.Unlock()
}

func TestRunReconnects(t *testing.T) {
	h := startAgent(t, nil, &fakeMethods{}, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	h.coord.srv.Post(c.Close)

	// same identity, announced again since the barrier was not seen.
	c2 := h.coord.conn(t)
	require.Equal(t, "w1", c2.Identity.ID)
	h.coord.expect(t, api.EventRunning)

	h.coord.send(c2, api.MustMessage(api.EventExperimentStarted))
	h.coord.send(c2, api.MustMessage(api.EventExperimentFinished))
	require.NoError(t, h.result(t))
}

func TestRunIgnoresFinishOfAnotherExperiment(t *testing.T) {
	m := &fakeMethods{}
	h := startAgent(t, nil, m, Config{})
	c := h.coord.conn(t)
	h.coord.expect(t, api.EventRunning)

	// joined while other workers were running an experiment.
	h.coord.send(c, api.MustMessage(api.EventExperimentFinished))
	select {
	case err := <-h.done:
		t.Fatalf("Run returned %v for an experiment it was not part of", err)
	case <-time.After(200 * time.Millisecond):
	}

	h.coord.send(c, api.MustMessage(api.EventAutomatedStart))
	h.coord.expect(t, api.EventStart)
	h.coord.send(c, api.MustMessage(api.EventExperimentStarted))
	h.coord.send(c, api.MustMessage(api.EventUpload, 1))
	h.coord.expect(t, api.EventUploaded)
	h.coord.send(c, api.MustMessage(api.EventExperimentFinished))

	require.NoError(t, h.result(t))
	require.EqualValues(t, 1, atomic.LoadInt32(&m.uploads))
}

func TestRunRequiresConnection(t *testing.T) {
	store, err := state.OpenMem()
	require.NoError(t, err)

	a := New(Config{Identity: api.Identity{ID: "w1"}}, store)
	err = a.Run(context.Background(), testDescriptor, &fakeMethods{})
	require.ErrorIs(t, err, ErrNotConnected)
}
