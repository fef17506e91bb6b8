package coordinator

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dfsbench/dfsbench/pkg/api"
	"github.com/dfsbench/dfsbench/pkg/results"
	"github.com/dfsbench/dfsbench/pkg/transport"
)

// start freezes the snapshot of participating workers and raises the
// barrier.
func (c *Coordinator) start(p *participant, msg *api.Message) {
	if c.phase != PhaseIdle {
		c.log.Debugw("ignoring start; experiment in progress", "worker", p.identity, "phase", c.phase)
		return
	}
	if !p.participating {
		c.log.Warnw("ignoring start from non-participating worker", "worker", p.identity)
		return
	}

	var d api.Descriptor
	if err := msg.Decode(0, &d); err != nil {
		c.log.Warnw("invalid start", "worker", p.identity, "error", err)
		return
	}
	if err := d.Validate(); err != nil {
		c.log.Warnw("invalid experiment descriptor", "worker", p.identity, "error", err)
		return
	}

	var snapshot []*participant
	for _, q := range c.participants {
		if q.connected() && q.participating {
			snapshot = append(snapshot, q)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].order < snapshot[j].order })

	c.gen++
	c.exp = &experiment{gen: c.gen, descriptor: d, workers: snapshot}
	c.phase = PhaseBarrier

	b := &barrier{ackID: uuid.New().String(), pending: make(map[string]bool)}
	for _, conn := range c.srv.Conns() {
		b.pending[conn.ID] = true
	}
	gen := c.gen
	b.timer = c.srv.AfterFunc(c.cfg.BarrierTimeout, func() {
		if c.barrier != b || c.exp == nil || c.exp.gen != gen {
			return
		}
		c.abandon()
	})
	c.barrier = b

	c.log.Infow("starting experiment",
		"experiment", d.Name, "network", d.Network, "workers", len(snapshot), "started_by", p.identity)

	started := api.MustMessage(api.EventExperimentStarted)
	started.AckID = b.ackID
	c.srv.Broadcast(started)
}

func (c *Coordinator) acked(conn *transport.Conn, msg *api.Message) {
	b := c.barrier
	if b == nil || msg.AckID != b.ackID || !b.pending[conn.ID] {
		return
	}
	delete(b.pending, conn.ID)
	if len(b.pending) == 0 {
		c.barrierReached()
	}
}

// release stops waiting for the acknowledgement of a closed channel.
func (c *Coordinator) release(conn *transport.Conn) {
	b := c.barrier
	if b == nil || !b.pending[conn.ID] {
		return
	}
	delete(b.pending, conn.ID)
	if len(b.pending) == 0 {
		c.barrierReached()
	}
}

// abandon gives up on a start attempt that was not acknowledged in time. No
// round has started; the workers are offered to start again.
func (c *Coordinator) abandon() {
	c.log.Warnw("not every worker acknowledged the experiment start; abandoning attempt",
		"missing", len(c.barrier.pending), "timeout", c.cfg.BarrierTimeout)

	snapshot := c.exp.workers
	c.barrier = nil
	c.exp = nil
	c.phase = PhaseIdle

	for _, p := range snapshot {
		if p.connected() && p.participating {
			p.ready = true
		}
	}
	c.reoffer()
}

func (c *Coordinator) barrierReached() {
	c.barrier.timer.Stop()
	c.barrier = nil
	c.phase = PhaseRunning

	c.log.Infow("every worker acknowledged; starting rounds", "rounds", len(c.exp.workers))
	c.nextRound()
}

// nextRound advances the schedule, or finishes the experiment after the last
// round.
func (c *Coordinator) nextRound() {
	e := c.exp
	if !hasNext(e.round.id, len(e.workers)) {
		c.finish()
		return
	}

	leader := leaderFor(e.workers, e.round.id)
	e.round = round{
		id:       e.round.id + 1,
		leader:   leader,
		workers:  workersFor(e.workers, leader),
		finished: make(map[string]api.Download),
	}

	c.log.Infow("round started", "round", e.round.id, "of", len(e.workers), "leader", leader.identity)
	c.dispatch(leader, api.MustMessage(api.EventUpload, e.round.id))
}

func (c *Coordinator) uploaded(p *participant, msg *api.Message) {
	if c.phase != PhaseRunning {
		return
	}
	r := &c.exp.round
	if p != r.leader || r.uploaded {
		c.log.Debugw("ignoring uploaded", "worker", p.identity, "round", r.id, "duplicate", r.uploaded)
		return
	}
	if len(msg.Args) == 0 {
		c.log.Warnw("uploaded carries no identifiers", "worker", p.identity)
		return
	}

	r.uploaded = true
	r.upload = msg.Args[0]
	c.log.Infow("leader uploaded", "round", r.id, "leader", p.identity, "downloaders", len(r.workers))

	if len(r.workers) == 0 {
		c.resolveRound()
		return
	}
	for _, w := range r.workers {
		c.dispatch(w, api.MustMessage(api.EventDownload, r.id, r.upload))
	}
}

func (c *Coordinator) downloaded(p *participant, msg *api.Message) {
	if c.phase != PhaseRunning {
		return
	}
	r := &c.exp.round
	if !r.uploaded || !contains(r.workers, p) {
		return
	}
	if _, dup := r.finished[p.identity.ID]; dup {
		c.log.Debugw("ignoring duplicate downloaded", "worker", p.identity, "round", r.id)
		return
	}
	if !c.store.Get(p.identity.ID).RoundIs(r.id) {
		c.log.Debugw("ignoring downloaded from another round", "worker", p.identity, "round", r.id)
		return
	}

	var d api.Download
	if err := msg.Decode(0, &d); err != nil {
		c.log.Warnw("invalid downloaded", "worker", p.identity, "error", err)
		return
	}
	r.finished[p.identity.ID] = d
	c.log.Infow("worker downloaded", "round", r.id, "worker", p.identity, "finished", len(r.finished), "of", len(r.workers))

	if len(r.finished) == len(r.workers) {
		c.resolveRound()
	}
}

// resolveRound writes the round's results, then moves on. The write happens
// off the dispatch goroutine; the round cannot advance before it completes.
func (c *Coordinator) resolveRound() {
	e := c.exp
	r := &e.round
	if r.resolving {
		return
	}
	r.resolving = true

	type entry struct {
		worker api.Identity
		rec    results.Record
	}
	entries := make([]entry, 0, len(r.workers))
	for _, w := range r.workers {
		entries = append(entries, entry{worker: w.identity, rec: results.Record{
			Experiment: e.descriptor.Name,
			Network:    e.descriptor.Network,
			Round:      r.id,
			Leader:     r.leader.identity,
			Download:   r.finished[w.identity.ID],
		}})
	}

	gen, id := e.gen, r.id
	go func() {
		var err error
		for _, en := range entries {
			if err = c.sink.WriteRoundResult(c.ctx, en.worker, en.rec); err != nil {
				break
			}
		}
		c.srv.Post(func() {
			if c.exp == nil || c.exp.gen != gen || c.exp.round.id != id {
				return
			}
			if err != nil {
				c.log.Errorw("failed to write round results", "round", id, "error", err)
				c.abort(fmt.Sprintf("failed to write results of round %d: %s", id, err))
				return
			}
			c.log.Infow("round finished", "round", id)
			c.nextRound()
		})
	}()
}

func (c *Coordinator) finish() {
	c.log.Infow("experiment finished", "experiment", c.exp.descriptor.Name, "rounds", c.exp.round.id)
	if err := c.store.Clear(); err != nil {
		c.log.Errorw("failed to clear shadow records", "error", err)
	}
	c.srv.Broadcast(api.MustMessage(api.EventExperimentFinished))
	c.reset()
}

// abort fails the experiment in progress, if any, on every worker.
func (c *Coordinator) abort(reason string) {
	c.log.Warnw("aborting experiment", "reason", reason)
	c.srv.Broadcast(api.MustMessage(api.EventError, reason))
	if err := c.store.Clear(); err != nil {
		c.log.Errorw("failed to clear shadow records", "error", err)
	}
	c.reset()
}

// reset returns to idle. Workers of the finished experiment announce
// themselves again for the next one; workers that announced themselves in
// the meantime are offered to start.
func (c *Coordinator) reset() {
	if c.barrier != nil {
		c.barrier.timer.Stop()
		c.barrier = nil
	}

	var members []*participant
	if c.exp != nil {
		members = c.exp.workers
	}
	for _, p := range members {
		p.ready, p.participating = false, false
		if p.lost != nil {
			p.lost.Stop()
			p.lost = nil
		}
	}
	for id, p := range c.participants {
		if !p.connected() {
			delete(c.participants, id)
		}
	}

	c.exp = nil
	c.phase = PhaseIdle
	c.reoffer()
}

func (c *Coordinator) reoffer() {
	var ready []*participant
	for _, p := range c.participants {
		if p.connected() && p.participating && p.ready {
			ready = append(ready, p)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].order < ready[j].order })

	if c.cfg.Auto {
		if len(ready) > 0 {
			c.offer(ready[0])
		}
		return
	}
	for _, p := range ready {
		c.offer(p)
	}
}

func contains(ps []*participant, p *participant) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
