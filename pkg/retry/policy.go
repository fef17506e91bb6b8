// Package retry holds the policy applied to calls into storage networks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/dfsbench/dfsbench/pkg/logging"
)

// ErrSkipped is returned when every attempt failed and the policy chose to
// skip the call. The caller carries on without its result.
var ErrSkipped = errors.New("skipped after failed attempts")

// minBatchDelay is the least pause between two batches of attempts under
// the Retry policy.
const minBatchDelay = 100 * time.Millisecond

// OnFailure decides what happens once every attempt of a call failed.
type OnFailure int

const (
	// Abort returns the last error to the caller.
	Abort OnFailure = iota
	// Skip returns ErrSkipped.
	Skip
	// Retry starts another round of attempts, until the context is done.
	Retry
)

func (o OnFailure) String() string {
	switch o {
	case Abort:
		return "abort"
	case Skip:
		return "skip"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("OnFailure(%d)", int(o))
	}
}

// ParseOnFailure parses "abort", "skip" or "retry".
func ParseOnFailure(s string) (OnFailure, error) {
	switch strings.ToLower(s) {
	case "abort", "":
		return Abort, nil
	case "skip":
		return Skip, nil
	case "retry":
		return Retry, nil
	default:
		return Abort, fmt.Errorf("unknown failure policy: %s", s)
	}
}

// Policy is the retry policy injected into collaborator calls.
type Policy struct {
	MaxAttempts uint
	Delay       time.Duration
	OnFailure   OnFailure
}

// Once is the policy that makes a single attempt and aborts on failure.
var Once = Policy{MaxAttempts: 1}

// Do calls fn until it succeeds or the policy gives up. name identifies the
// call in logs.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	log := logging.S().With("call", name)

	for batch := 1; ; batch++ {
		err := p.attempt(ctx, log, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch p.OnFailure {
		case Skip:
			log.Warnw("giving up; skipping", "error", err)
			return fmt.Errorf("%s: %w (%v)", name, ErrSkipped, err)
		case Retry:
			log.Warnw("all attempts failed; retrying", "batch", batch, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.batchDelay()):
			}
		default:
			return fmt.Errorf("%s: %w", name, err)
		}
	}
}

func (p Policy) batchDelay() time.Duration {
	if p.Delay < minBatchDelay {
		return minBatchDelay
	}
	return p.Delay
}

func (p Policy) attempt(ctx context.Context, log *zap.SugaredLogger, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debugw("attempt failed", "attempt", n+1, "of", attempts, "error", err)
		}),
	)
}
