package coordinator

// The round-robin schedule over a frozen snapshot of n workers: round k
// (1-based) is led by snapshot[k-1] and downloaded by everyone else, so each
// worker leads exactly once and there are n rounds.

// hasNext returns true if a round follows round current (0 before the first).
func hasNext(current, total int) bool {
	return current < total
}

// leaderFor returns the leader of the round following round current.
func leaderFor(snapshot []*participant, current int) *participant {
	return snapshot[current%len(snapshot)]
}

// workersFor returns every snapshot participant except leader, in snapshot
// order.
func workersFor(snapshot []*participant, leader *participant) []*participant {
	out := make([]*participant, 0, len(snapshot)-1)
	for _, p := range snapshot {
		if p != leader {
			out = append(out, p)
		}
	}
	return out
}
