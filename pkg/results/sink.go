// Package results persists the measurements workers report at the end of
// every round.
package results

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/dfsbench/dfsbench/pkg/api"
)

// Record is what one worker downloaded during one round.
type Record struct {
	Experiment string
	Network    string
	Round      int
	Leader     api.Identity
	Download   api.Download
}

// Sink receives exactly one record per worker and round.
type Sink interface {
	WriteRoundResult(ctx context.Context, worker api.Identity, rec Record) error
	Close() error
}

// Multi writes every record to all of its sinks.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) WriteRoundResult(ctx context.Context, worker api.Identity, rec Record) error {
	var merr *multierror.Error
	for _, s := range m {
		if err := s.WriteRoundResult(ctx, worker, rec); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (m Multi) Close() error {
	var merr *multierror.Error
	for _, s := range m {
		if err := s.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Discard drops every record.
type Discard struct{}

func (Discard) WriteRoundResult(context.Context, api.Identity, Record) error { return nil }

func (Discard) Close() error { return nil }
