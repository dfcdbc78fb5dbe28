package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/eddiefleurent/orderblock-reconciler/internal/exchangemock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort_SuccessfulCallsPassThrough(t *testing.T) {
	mock := &exchangemock.Port{
		GetFreeBalanceFn: func(ctx context.Context) (float64, error) { return 1000.0, nil },
	}
	p := New(mock)

	balance, err := p.GetFreeBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.0, balance)
}

func TestPort_TripsOpenAfterFailureRatio(t *testing.T) {
	calls := 0
	mock := &exchangemock.Port{
		GetFreeBalanceFn: func(ctx context.Context) (float64, error) {
			calls++
			if calls > 3 {
				return 0, errors.New("exchange unreachable")
			}
			return 1000.0, nil
		},
	}
	p := NewWithSettings(mock, Settings{
		MaxRequests:  1,
		Interval:     10 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
		MinRequests:  1,
		FailureRatio: 0.5,
	})

	var lastErr error
	for i := 0; i < 8; i++ {
		_, lastErr = p.GetFreeBalance(context.Background())
	}
	assert.Error(t, lastErr)
	assert.Equal(t, gobreaker.StateOpen, p.State())
}

func TestPort_SatisfiesExchangePortInterface(t *testing.T) {
	var _ exchange.Port = New(&exchangemock.Port{})
}
