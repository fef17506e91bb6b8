package state

import (
	"encoding/json"
)

// Status is the delivery status of the last action dispatched to a
// participant.
type Status string

const (
	StatusNone Status = ""
	StatusSent Status = "sent"
	StatusGot  Status = "got"
)

// Record is the last known action of a participant.
//
// The coordinator keeps one per participant to replay undelivered actions
// (Event, Response, Status, Args, Round). A worker keeps its own to avoid
// re-executing an action it already completed (Event, Round, Args).
//
// Extra holds fields registered through Extend.
type Record struct {
	Event    string                     `json:"event"`
	Response string                     `json:"response"`
	Status   Status                     `json:"status"`
	Args     []json.RawMessage          `json:"args"`
	Round    *int                       `json:"round"`
	Extra    map[string]json.RawMessage `json:"extra,omitempty"`
}

// IsEmpty returns true for the record of a key that was never set.
func (r Record) IsEmpty() bool {
	return r.Event == "" && r.Response == "" && r.Status == StatusNone &&
		len(r.Args) == 0 && r.Round == nil && len(r.Extra) == 0
}

// RoundIs returns true if the record belongs to round n.
func (r Record) RoundIs(n int) bool {
	return r.Round != nil && *r.Round == n
}

func (r Record) clone() Record {
	c := r
	if r.Args != nil {
		c.Args = make([]json.RawMessage, len(r.Args))
		for i, a := range r.Args {
			c.Args[i] = append(json.RawMessage(nil), a...)
		}
	}
	if r.Round != nil {
		n := *r.Round
		c.Round = &n
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Patch is a partial Record. Only non-nil fields are applied by Set.
type Patch struct {
	Event    *string
	Response *string
	Status   *Status
	Args     []json.RawMessage
	Round    *int
}

func (p Patch) apply(r *Record) {
	if p.Event != nil {
		r.Event = *p.Event
	}
	if p.Response != nil {
		r.Response = *p.Response
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Args != nil {
		r.Args = p.Args
	}
	if p.Round != nil {
		n := *p.Round
		r.Round = &n
	}
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// Int returns a pointer to n, for building patches.
func Int(n int) *int { return &n }

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s Status) *Status { return &s }
