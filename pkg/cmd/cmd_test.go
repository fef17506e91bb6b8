package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dfsbench/dfsbench/pkg/api"
)

func TestHealthy(t *testing.T) {
	ok := api.HealthcheckItem{Name: "a", Status: api.HealthcheckStatusOK}
	failed := api.HealthcheckItem{Name: "b", Status: api.HealthcheckStatusFailed}

	require.True(t, healthy(&api.HealthcheckReport{Checks: []api.HealthcheckItem{ok}}))
	require.False(t, healthy(&api.HealthcheckReport{Checks: []api.HealthcheckItem{ok, failed}}))

	fixed := &api.HealthcheckReport{
		Checks: []api.HealthcheckItem{ok, failed},
		Fixes:  []api.HealthcheckItem{{Name: "b", Status: api.HealthcheckStatusOK}},
	}
	require.True(t, healthy(fixed))
}

func TestFetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(api.Status{
			Phase:        "running",
			Participants: []api.ParticipantStatus{{Identity: api.Identity{ID: "w1"}, Connected: true}},
		})
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	for _, endpoint := range []string{host, "ws://" + host + "/ws", srv.URL + "/"} {
		s, err := fetchStatus(context.Background(), endpoint)
		require.NoError(t, err, endpoint)
		require.Equal(t, "running", s.Phase)
		require.Len(t, s.Participants, 1)
	}
}
