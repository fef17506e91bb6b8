package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/logging"
	"github.com/dfsbench/dfsbench/pkg/state"
)

func newShadow(t *testing.T) *shadow {
	t.Helper()
	store, err := state.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &shadow{store: store, log: logging.S()}
}

func TestShadowRecordsOfflineDispatch(t *testing.T) {
	s := newShadow(t)

	s.dispatched("w1", api.MustMessage(api.EventDownload, 2, api.Upload{IDs: []string{"id1"}}))

	rec := s.store.Get("w1")
	require.Equal(t, state.StatusSent, rec.Status)
	require.Equal(t, api.EventDownload, rec.Event)
	require.Equal(t, api.EventDownloaded, rec.Response)
	require.True(t, rec.RoundIs(2))

	msg := s.pending("w1")
	require.NotNil(t, msg)
	require.Equal(t, api.EventDownload, msg.Event)

	var u api.Upload
	require.NoError(t, msg.Decode(1, &u))
	require.Equal(t, []string{"id1"}, u.IDs)
}

func TestShadowNeverDowngradesObservedResponse(t *testing.T) {
	s := newShadow(t)

	s.dispatched("w1", api.MustMessage(api.EventUpload, 1))
	_, err := s.store.Set("w1", state.Patch{Status: state.StatusPtr(state.StatusGot)})
	require.NoError(t, err)

	// a replay of the same action leaves the record alone.
	s.dispatched("w1", api.MustMessage(api.EventUpload, 1))
	require.Equal(t, state.StatusGot, s.store.Get("w1").Status)
	require.Nil(t, s.pending("w1"))

	// the next round does not.
	s.dispatched("w1", api.MustMessage(api.EventUpload, 2))
	require.Equal(t, state.StatusSent, s.store.Get("w1").Status)
	require.NotNil(t, s.pending("w1"))
}

func TestShadowIgnoresOtherEvents(t *testing.T) {
	s := newShadow(t)

	s.dispatched("w1", api.MustMessage(api.EventExperimentFinished))
	s.dispatched("w1", &api.Message{Event: api.EventUpload, IsAck: true})
	require.False(t, s.store.Has("w1"))
	require.Nil(t, s.pending("w1"))
}
