package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

// Status returns a snapshot of the coordinator, taken on the dispatch
// goroutine.
func (c *Coordinator) Status(ctx context.Context) (*api.Status, error) {
	ch := make(chan *api.Status, 1)
	if !c.srv.Post(func() { ch <- c.snapshot() }) {
		return nil, transport.ErrShutdown
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) snapshot() *api.Status {
	s := &api.Status{
		Phase:        string(c.phase),
		Auto:         c.cfg.Auto,
		Participants: make([]api.ParticipantStatus, 0, len(c.participants)),
	}
	if c.cfg.Auto {
		s.Connections = c.cfg.Connections
	}

	if e := c.exp; e != nil {
		es := &api.ExperimentStatus{
			Descriptor:  e.descriptor,
			TotalRounds: len(e.workers),
			Round:       e.round.id,
			Uploaded:    e.round.uploaded,
			Finished:    len(e.round.finished),
			Downloaders: len(e.round.workers),
		}
		for _, w := range e.workers {
			es.Workers = append(es.Workers, w.identity.ID)
		}
		if e.round.leader != nil {
			es.Leader = e.round.leader.identity.ID
		}
		s.Experiment = es
	}

	ps := make([]*participant, 0, len(c.participants))
	for _, p := range c.participants {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].order < ps[j].order })

	for _, p := range ps {
		rec := c.store.Get(p.identity.ID)
		s.Participants = append(s.Participants, api.ParticipantStatus{
			Identity:      p.identity,
			Connected:     p.connected(),
			Participating: p.participating,
			Ready:         p.ready,
			LastEvent:     rec.Event,
			LastStatus:    string(rec.Status),
			LastRound:     rec.Round,
		})
	}
	return s
}

func (c *Coordinator) serveStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := c.Status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		c.log.Errorw("error sending status", "error", err)
	}
}
