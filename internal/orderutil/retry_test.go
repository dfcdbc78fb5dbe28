package orderutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(errors.New("HTTP 429 Too Many Requests")))
	assert.False(t, IsTransient(errors.New("insufficient funds")))
	assert.False(t, IsTransient(nil))
}

func TestRetry_SucceedsWithoutRetrying(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetrySchedule, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnNonTransientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetrySchedule, func() error {
		calls++
		return errors.New("insufficient funds")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesTransientUpToSchedule(t *testing.T) {
	calls := 0
	schedule := []time.Duration{time.Millisecond, time.Millisecond}
	err := Retry(context.Background(), schedule, func() error {
		calls++
		return errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 scheduled retries
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, DefaultRetrySchedule, func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}
