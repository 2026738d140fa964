package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func(int) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsBoundedAttempts(t *testing.T) {
	calls := 0
	var seen []int
	err := Do(context.Background(), Policy{
		MaxAttempts: 4,
		OnRetry:     func(attempt int, _ error) { seen = append(seen, attempt) },
	}, func(attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		return errBusy
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDoSkipsNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 4,
		Retryable:   func(err error) bool { return errors.Is(err, errBusy) },
	}, func(int) error {
		calls++
		return fatal
	})
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDoSingleAttemptWhenUnbounded(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(int) error {
		calls++
		return errBusy
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second}, func(int) error { return errBusy })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errBusy)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestDoStopsWhenCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errBusy
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestScheduleBoundsDelaysAndRetries(t *testing.T) {
	b := Policy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}.schedule(context.Background())
	b.Reset()

	bounds := []struct{ lo, hi time.Duration }{
		{5 * time.Millisecond, 15 * time.Millisecond},
		{10 * time.Millisecond, 30 * time.Millisecond},
		{20 * time.Millisecond, 60 * time.Millisecond},
	}
	for i, want := range bounds {
		d := b.NextBackOff()
		require.NotEqual(t, backoff.Stop, d, "retry %d", i)
		assert.GreaterOrEqual(t, d, want.lo)
		assert.LessOrEqual(t, d, want.hi+time.Nanosecond)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}
