package dfs

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

// fakeBee serves the subset of the Bee API and debug API used by Swarm.
type fakeBee struct {
	sync.Mutex

	chunks       map[string][]byte
	batches      []string
	bought       int
	disconnected []string
	reachable    map[string]bool
}

func newFakeBee(t *testing.T) (*fakeBee, *httptest.Server) {
	b := &fakeBee{chunks: make(map[string][]byte), reachable: make(map[string]bool)}

	r := mux.NewRouter()
	r.HandleFunc("/addresses", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"overlay": "overlay-1"})
	}).Methods("GET")
	r.HandleFunc("/stamps", func(w http.ResponseWriter, _ *http.Request) {
		b.Lock()
		defer b.Unlock()
		var stamps []map[string]interface{}
		for _, id := range b.batches {
			stamps = append(stamps, map[string]interface{}{"batchID": id, "usable": true, "batchTTL": 100})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"stamps": stamps})
	}).Methods("GET")
	r.HandleFunc("/stamps/{amount}/{depth}", func(w http.ResponseWriter, _ *http.Request) {
		b.Lock()
		defer b.Unlock()
		b.bought++
		b.batches = append(b.batches, "bought")
		_ = json.NewEncoder(w).Encode(map[string]string{"batchID": "bought"})
	}).Methods("POST")
	r.HandleFunc("/bytes", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Swarm-Postage-Batch-Id") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "missing batch"})
			return
		}
		data, _ := ioutil.ReadAll(r.Body)
		b.Lock()
		ref := "ref-" + string(rune('a'+len(b.chunks)))
		b.chunks[ref] = data
		b.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": ref})
	}).Methods("POST")
	r.HandleFunc("/bytes/{ref}", func(w http.ResponseWriter, r *http.Request) {
		b.Lock()
		data, ok := b.chunks[mux.Vars(r)["ref"]]
		b.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}).Methods("GET")
	r.HandleFunc("/peers/{addr}", func(w http.ResponseWriter, r *http.Request) {
		b.Lock()
		b.disconnected = append(b.disconnected, mux.Vars(r)["addr"])
		b.Unlock()
	}).Methods("DELETE")
	r.HandleFunc("/pingpong/{addr}", func(w http.ResponseWriter, r *http.Request) {
		b.Lock()
		ok := b.reachable[mux.Vars(r)["addr"]]
		b.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"rtt": "1ms"})
	}).Methods("POST")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return b, srv
}

func TestSwarmAddGet(t *testing.T) {
	bee, srv := newFakeBee(t)
	bee.batches = []string{"existing"}

	n := NewSwarm(SwarmConfig{API: srv.URL, DebugAPI: srv.URL})
	ctx := context.Background()

	ref, err := n.Add(ctx, Payload(1024))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	stat, err := n.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, ref, stat.ID)
	require.EqualValues(t, 1024, stat.Size)
	require.Zero(t, bee.bought)

	_, err = n.Get(ctx, "missing")
	require.Error(t, err)
}

func TestSwarmBuysBatchWhenNoneUsable(t *testing.T) {
	bee, srv := newFakeBee(t)

	n := NewSwarm(SwarmConfig{API: srv.URL, DebugAPI: srv.URL})
	ctx := context.Background()

	_, err := n.Add(ctx, Payload(16))
	require.NoError(t, err)
	_, err = n.Add(ctx, Payload(16))
	require.NoError(t, err)
	require.Equal(t, 1, bee.bought)
}

func TestSwarmPeers(t *testing.T) {
	bee, srv := newFakeBee(t)
	bee.reachable["alive"] = true

	n := NewSwarm(SwarmConfig{API: srv.URL, DebugAPI: srv.URL})
	ctx := context.Background()

	id, err := n.ID(ctx)
	require.NoError(t, err)
	require.Equal(t, "overlay-1", id)

	ok, err := n.PeerReachable(ctx, "alive")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = n.PeerReachable(ctx, "gone")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, n.Disconnect(ctx, "alive"))
	require.Equal(t, []string{"alive"}, bee.disconnected)
}

func TestRegistry(t *testing.T) {
	bee, srv := newFakeBee(t)
	bee.reachable["alive"] = true

	r := NewRegistry(NewSwarm(SwarmConfig{API: srv.URL, DebugAPI: srv.URL}))
	require.Equal(t, []string{"swarm"}, r.Names())

	ok, err := r.PeerReachable(context.Background(), "swarm", "alive")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = r.PeerReachable(context.Background(), "ipfs", "alive")
	require.ErrorIs(t, err, ErrUnknownNetwork)
}
