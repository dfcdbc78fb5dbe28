package metrics

import (
	"testing"

	"github.com/eddiefleurent/orderblock-reconciler/internal/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return state.New(t.TempDir(), logger)
}

func TestRefresh_SetsGaugesFromStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertPendingOrder(state.PendingOrder{Symbol: "BTCUSDC", ExchangeOrderID: "o1"}))

	r := NewRefresher()
	r.Refresh(store)

	assert.Equal(t, float64(1), testutil.ToFloat64(pendingOrdersCount))
}

func TestRefresh_CountersAdvanceByDeltaOnly(t *testing.T) {
	store := newTestStore(t)
	r := NewRefresher()

	require.NoError(t, store.IncPlacedOrders())
	r.Refresh(store)
	first := testutil.ToFloat64(placedOrdersTotal)

	r.Refresh(store)
	assert.Equal(t, first, testutil.ToFloat64(placedOrdersTotal), "second refresh with no new placements must not double-count")

	require.NoError(t, store.IncPlacedOrders())
	r.Refresh(store)
	assert.Equal(t, first+1, testutil.ToFloat64(placedOrdersTotal))
}

func TestDelta_FloorsAtZeroOnCounterReset(t *testing.T) {
	assert.Equal(t, float64(0), delta(5, 2))
	assert.Equal(t, float64(3), delta(2, 5))
	assert.Equal(t, float64(0), delta(5, 5))
}
