package coordinator

import (
	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/state"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

// shadow keeps, per participant, the last action dispatched to it and
// whether its response was observed. It only serves replay after a
// reconnection; workers decide on their own whether an action still needs
// to run.
type shadow struct {
	store *state.Store
	log   *zap.SugaredLogger
}

var _ transport.Interceptor = (*shadow)(nil)

func (s *shadow) Outbound(c *transport.Conn, msg *api.Message) {
	s.dispatched(c.Identity.ID, msg)
}

func (s *shadow) Inbound(c *transport.Conn, msg *api.Message) {
	if msg.IsAck {
		return
	}
	id := c.Identity.ID
	rec := s.store.Get(id)
	if rec.Status != state.StatusSent || rec.Response != msg.Event {
		return
	}
	if _, err := s.store.Set(id, state.Patch{Status: state.StatusPtr(state.StatusGot)}); err != nil {
		s.log.Errorw("failed to persist shadow record", "worker", id, "error", err)
	}
}

// dispatched records msg as sent to participant id, whether or not the
// participant is connected. A response already observed for the same event
// and round is never downgraded.
func (s *shadow) dispatched(id string, msg *api.Message) {
	response, ok := api.Responses[msg.Event]
	if !ok || msg.IsAck {
		return
	}
	var round int
	if err := msg.Decode(0, &round); err != nil {
		s.log.Warnw("dispatching action without a round", "event", msg.Event, "error", err)
		return
	}

	rec := s.store.Get(id)
	if rec.Status == state.StatusGot && rec.Event == msg.Event && rec.RoundIs(round) {
		return
	}
	_, err := s.store.Set(id, state.Patch{
		Event:    state.String(msg.Event),
		Response: state.String(response),
		Status:   state.StatusPtr(state.StatusSent),
		Args:     msg.Clone().Args,
		Round:    state.Int(round),
	})
	if err != nil {
		s.log.Errorw("failed to persist shadow record", "worker", id, "error", err)
	}
}

// pending returns the action to replay to participant id, or nil.
func (s *shadow) pending(id string) *api.Message {
	rec := s.store.Get(id)
	if rec.Status != state.StatusSent || rec.Event == "" {
		return nil
	}
	return &api.Message{Event: rec.Event, Args: rec.Args}
}
