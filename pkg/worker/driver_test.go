package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/coordinator"
	"github.com/dfsbench/dfsbench/pkg/dfs"
	"github.com/dfsbench/dfsbench/pkg/experiment"
	"github.com/dfsbench/dfsbench/pkg/retry"
	"github.com/dfsbench/dfsbench/pkg/state"
)

type memNetwork struct {
	sync.Mutex
	added   int
	cleared int
	// failAdds is the number of Add calls left to fail.
	failAdds int
}

func (n *memNetwork) Name() string { return "ipfs" }

func (n *memNetwork) ID(context.Context) (string, error) { return "node-1", nil }

func (n *memNetwork) Add(_ context.Context, data []byte) (string, error) {
	n.Lock()
	defer n.Unlock()
	if n.failAdds > 0 {
		n.failAdds--
		return "", errors.New("no space left on device")
	}
	n.added++
	return fmt.Sprintf("id%d", n.added), nil
}

func (n *memNetwork) Get(_ context.Context, id string) (api.Stat, error) {
	return api.Stat{ID: id, Latency: time.Millisecond}, nil
}

func (n *memNetwork) Remove(context.Context, string) error { return nil }

func (n *memNetwork) Disconnect(context.Context, string) error { return nil }

func (n *memNetwork) PeerReachable(context.Context, string) (bool, error) { return true, nil }

func (n *memNetwork) Clear(context.Context) error {
	n.Lock()
	defer n.Unlock()
	n.cleared++
	return nil
}

func newDriver(t *testing.T, store *state.Store, network dfs.Network) *Driver {
	t.Helper()

	cstore, err := state.OpenMem()
	require.NoError(t, err)
	co, err := coordinator.New(coordinator.Config{
		Listen:         "127.0.0.1:0",
		BarrierTimeout: 5 * time.Second,
		ReplayGrace:    50 * time.Millisecond,
	}, cstore, nil, nil)
	require.NoError(t, err)
	go func() { _ = co.Serve() }()

	agent := New(Config{
		Endpoint:       co.Addr(),
		Identity:       api.Identity{ID: "w1"},
		ReconnectDelay: 10 * time.Millisecond,
	}, store)
	require.NoError(t, agent.Connect(context.Background()))

	t.Cleanup(func() {
		_ = agent.Disconnect()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = co.Shutdown(ctx)
	})
	return &Driver{Agent: agent, Networks: dfs.NewRegistry(network), Store: store}
}

var smallPlan = Plan{
	Experiments: map[string][]string{"ipfs": {"normal", "do-not-cache"}},
	Times:       2,
	Data:        dfs.DataOptions{Start: "1kb", Max: "3kb", Step: 2, Op: "*"},
	Retry:       retry.Once,
}

func TestDriverRunsEveryExperiment(t *testing.T) {
	store, err := state.OpenMem()
	require.NoError(t, err)
	network := &memNetwork{}
	d := newDriver(t, store, network)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, smallPlan))

	// a lone worker leads the only round of each run: two payloads per run.
	require.Equal(t, 2*2*2, network.added)
	require.Equal(t, 1, network.cleared)
	require.False(t, store.Has("progress/ipfs"))
}

func TestDriverResumesProgress(t *testing.T) {
	store, err := state.OpenMem()
	require.NoError(t, err)

	infos, err := experiment.Select("ipfs", "normal", "do-not-cache")
	require.NoError(t, err)
	progress := experiment.NewProgress(store, "ipfs")
	_, err = progress.Plan(infos, 2)
	require.NoError(t, err)
	require.NoError(t, progress.Done("normal"))
	require.NoError(t, progress.Done("normal"))
	require.NoError(t, progress.Done("do-not-cache"))

	network := &memNetwork{}
	d := newDriver(t, store, network)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, smallPlan))

	// only the last run of do-not-cache was left.
	require.Equal(t, 2, network.added)
	require.False(t, store.Has("progress/ipfs"))
}

func TestDriverReconnectsAfterFailedExperiment(t *testing.T) {
	store, err := state.OpenMem()
	require.NoError(t, err)
	network := &memNetwork{failAdds: 1}
	d := newDriver(t, store, network)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err = d.Run(ctx, smallPlan)

	var failure *FailureError
	require.True(t, errors.As(err, &failure), "got %v", err)
	require.Contains(t, failure.Reason, "no space left on device")

	// the failed run is counted; the other three complete on a new channel.
	require.Equal(t, 3*2, network.added)
	require.False(t, store.Has("progress/ipfs"))
}
