package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(calls *int, failures int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		if *calls <= failures {
			return errBoom
		}
		return nil
	}
}

func TestSucceedsWithinAttempts(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	require.NoError(t, p.Do(context.Background(), "add", failing(&calls, 2)))
	require.Equal(t, 3, calls)
}

func TestAbortReturnsLastError(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond, OnFailure: Abort}

	err := p.Do(context.Background(), "add", failing(&calls, 10))
	require.ErrorIs(t, err, errBoom)
	require.NotErrorIs(t, err, ErrSkipped)
	require.Equal(t, 2, calls)
}

func TestSkipReturnsErrSkipped(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond, OnFailure: Skip}

	err := p.Do(context.Background(), "add", failing(&calls, 10))
	require.ErrorIs(t, err, ErrSkipped)
	require.Equal(t, 2, calls)
}

func TestRetryKeepsGoingUntilSuccess(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 2, Delay: time.Millisecond, OnFailure: Retry}

	require.NoError(t, p.Do(context.Background(), "add", failing(&calls, 5)))
	require.Equal(t, 6, calls)
}

func TestRetryStopsWithContext(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 1, Delay: time.Millisecond, OnFailure: Retry}

	ctx, cancel := context.WithTimeout(context.Background(), 3*minBatchDelay/2)
	defer cancel()

	err := p.Do(ctx, "add", failing(&calls, 1<<30))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Greater(t, calls, 1)
}

func TestRetryPausesBetweenBatchesWithoutDelay(t *testing.T) {
	var calls int
	p := Policy{MaxAttempts: 3, OnFailure: Retry}

	ctx, cancel := context.WithTimeout(context.Background(), 5*minBatchDelay/2)
	defer cancel()

	start := time.Now()
	err := p.Do(ctx, "add", failing(&calls, 1<<30))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), 2*minBatchDelay)
	// one batch at the start and one after each pause.
	require.LessOrEqual(t, calls, 3*3)
}

func TestZeroAttemptsMeansOnce(t *testing.T) {
	var calls int
	require.Error(t, Policy{}.Do(context.Background(), "add", failing(&calls, 10)))
	require.Equal(t, 1, calls)
}

func TestParseOnFailure(t *testing.T) {
	for in, want := range map[string]OnFailure{"abort": Abort, "Skip": Skip, "retry": Retry, "": Abort} {
		got, err := ParseOnFailure(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseOnFailure("panic")
	require.Error(t, err)
}
