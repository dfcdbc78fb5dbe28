// Package state implements the single-writer State Store: the worker loop
// is the only mutator, every container is replaced atomically via
// atomic.Pointer so the HTTP read API never takes a lock, and four of the
// containers are durably persisted as JSON files using the teacher's
// atomic-file-write recipe.
package state

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eddiefleurent/orderblock-reconciler/internal/exchange"
	"github.com/sirupsen/logrus"
)

const (
	pendingOrdersFile  = "pending_orders.json"
	metricsFile        = "metrics.json"
	tradeHistoryFile   = "trade_history.json"
	balanceHistoryFile = "balance_history.json"
)

// pendingOrdersDoc / metricsDoc / etc. are the on-disk envelopes, giving
// each file room to grow new top-level fields without breaking the
// forward-compatible load the store requires.
type pendingOrdersDoc struct {
	Orders map[string]PendingOrder `json:"orders"`
}

type tradeHistoryDoc struct {
	Trades []Trade `json:"trades"`
}

type balanceHistoryDoc struct {
	Points []BalancePoint `json:"points"`
}

// Store is the reconciliation core's in-memory state, safe for concurrent
// reads from many goroutines and single-writer mutation from the worker
// loop.
type Store struct {
	dataDir string
	logger  *logrus.Logger

	pendingOrders     atomic.Pointer[map[string]PendingOrder]
	positions         atomic.Pointer[map[string]Position]
	openOrdersCache   atomic.Pointer[map[string][]exchange.Order]
	tradeHistory      atomic.Pointer[[]Trade]
	balanceTimeline   atomic.Pointer[[]BalancePoint]
	reconciliationLog atomic.Pointer[[]ReconciliationLogEntry]
	metrics           atomic.Pointer[Metrics]

	Throttle *ThrottleTable

	// reconcileMu serializes reconciliation cycles via TryLock: an
	// overlapping attempt increments reconciliation_skipped_count and
	// returns immediately rather than blocking.
	reconcileMu sync.Mutex
}

// New constructs a Store backed by dataDir, loading each of the four
// persisted files (a missing or corrupt file logs a warning and starts
// empty, per the store's durability contract).
func New(dataDir string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		dataDir:  dataDir,
		logger:   logger,
		Throttle: NewThrottleTable(defaultThrottleInterval),
	}

	pending := map[string]PendingOrder{}
	if doc, ok := readJSONOrDefault[pendingOrdersDoc](s.path(pendingOrdersFile)); ok && doc.Orders != nil {
		pending = doc.Orders
	} else if !ok {
		s.logger.WithField("file", pendingOrdersFile).Warn("state: starting with empty pending orders (missing or corrupt file)")
	}
	s.pendingOrders.Store(&pending)

	positions := map[string]Position{}
	s.positions.Store(&positions)

	openOrders := map[string][]exchange.Order{}
	s.openOrdersCache.Store(&openOrders)

	metrics := Metrics{}
	if m, ok := readJSONOrDefault[Metrics](s.path(metricsFile)); ok {
		metrics = m
	} else {
		s.logger.WithField("file", metricsFile).Warn("state: starting with empty metrics (missing or corrupt file)")
	}
	s.metrics.Store(&metrics)

	var trades []Trade
	if doc, ok := readJSONOrDefault[tradeHistoryDoc](s.path(tradeHistoryFile)); ok {
		trades = doc.Trades
	} else {
		s.logger.WithField("file", tradeHistoryFile).Warn("state: starting with empty trade history (missing or corrupt file)")
	}
	s.tradeHistory.Store(&trades)

	var balance []BalancePoint
	if doc, ok := readJSONOrDefault[balanceHistoryDoc](s.path(balanceHistoryFile)); ok {
		balance = doc.Points
	} else {
		s.logger.WithField("file", balanceHistoryFile).Warn("state: starting with empty balance timeline (missing or corrupt file)")
	}
	s.balanceTimeline.Store(&balance)

	var reconLog []ReconciliationLogEntry
	s.reconciliationLog.Store(&reconLog)

	return s
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// TryLockReconcile attempts to acquire the non-blocking reconciliation
// mutex. Callers must invoke the returned unlock function only when ok is
// true.
func (s *Store) TryLockReconcile() (unlock func(), ok bool) {
	if !s.reconcileMu.TryLock() {
		return nil, false
	}
	return s.reconcileMu.Unlock, true
}

// --- Pending orders ---------------------------------------------------

// UpsertPendingOrder replaces the pending order for po.Symbol (normalized)
// and persists the whole table.
func (s *Store) UpsertPendingOrder(po PendingOrder) error {
	po.Symbol = NormalizeSymbol(po.Symbol)
	next := cloneMap(s.pendingOrders.Load())
	next[po.Symbol] = po
	s.pendingOrders.Store(&next)
	return s.savePendingOrders(next)
}

// GetPendingOrder returns the pending order for symbol, if any.
func (s *Store) GetPendingOrder(symbol string) (PendingOrder, bool) {
	m := *s.pendingOrders.Load()
	po, ok := m[NormalizeSymbol(symbol)]
	return po, ok
}

// RemovePendingOrder deletes the pending order for symbol and persists the
// table, regardless of whether an entry existed.
func (s *Store) RemovePendingOrder(symbol string) error {
	next := cloneMap(s.pendingOrders.Load())
	delete(next, NormalizeSymbol(symbol))
	s.pendingOrders.Store(&next)
	return s.savePendingOrders(next)
}

// ListPendingOrders returns a stable-ordered snapshot of all pending
// orders.
func (s *Store) ListPendingOrders() []PendingOrder {
	m := *s.pendingOrders.Load()
	out := make([]PendingOrder, 0, len(m))
	for _, po := range m {
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Store) savePendingOrders(m map[string]PendingOrder) error {
	err := writeJSONAtomic(s.path(pendingOrdersFile), pendingOrdersDoc{Orders: m})
	if err != nil {
		s.logger.WithError(err).Error("state: failed to persist pending orders")
	}
	return err
}

func cloneMap[K comparable, V any](src *map[K]V) map[K]V {
	out := make(map[K]V, len(*src))
	for k, v := range *src {
		out[k] = v
	}
	return out
}

// --- Positions ----------------------------------------------------------

// UpsertPosition inserts or replaces the mirrored position for p.Symbol,
// preserving EntryTime from any existing record when p.EntryTime is zero
// (spec.md §3: "entry_time preserved across updates").
func (s *Store) UpsertPosition(p Position) {
	p.Symbol = NormalizeSymbol(p.Symbol)
	next := cloneMap(s.positions.Load())
	if existing, ok := next[p.Symbol]; ok && p.EntryTime.IsZero() {
		p.EntryTime = existing.EntryTime
	}
	next[p.Symbol] = p
	s.positions.Store(&next)
}

// RemovePosition deletes the mirrored position for symbol, returning the
// removed record if one existed.
func (s *Store) RemovePosition(symbol string) (Position, bool) {
	symbol = NormalizeSymbol(symbol)
	cur := *s.positions.Load()
	removed, ok := cur[symbol]
	if !ok {
		return Position{}, false
	}
	next := cloneMap(&cur)
	delete(next, symbol)
	s.positions.Store(&next)
	return removed, true
}

// GetPosition returns the mirrored position for symbol, if any.
func (s *Store) GetPosition(symbol string) (Position, bool) {
	m := *s.positions.Load()
	p, ok := m[NormalizeSymbol(symbol)]
	return p, ok
}

// ListPositions returns a stable-ordered snapshot of all mirrored
// positions.
func (s *Store) ListPositions() []Position {
	m := *s.positions.Load()
	out := make([]Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// --- Open order cache -----------------------------------------------------

// SetOpenOrdersCache replaces the cached reduce-only/limit orders for
// symbol, used to avoid duplicate TP/SL placement when a live fetch lags.
func (s *Store) SetOpenOrdersCache(symbol string, orders []exchange.Order) {
	symbol = NormalizeSymbol(symbol)
	next := cloneMap(s.openOrdersCache.Load())
	next[symbol] = orders
	s.openOrdersCache.Store(&next)
}

// GetOpenOrdersCache returns the cached orders for symbol.
func (s *Store) GetOpenOrdersCache(symbol string) []exchange.Order {
	m := *s.openOrdersCache.Load()
	return m[NormalizeSymbol(symbol)]
}

// --- Trade history --------------------------------------------------------

// AppendTrade inserts t at the head of trade history and persists.
func (s *Store) AppendTrade(t Trade) error {
	cur := *s.tradeHistory.Load()
	next := make([]Trade, 0, len(cur)+1)
	next = append(next, t)
	next = append(next, cur...)
	s.tradeHistory.Store(&next)
	return s.saveTradeHistory(next)
}

// CloseTrade finds the most recent OPEN row for symbol and closes it,
// computing PnL per side. It returns false if no OPEN row was found.
func (s *Store) CloseTrade(symbol string, exitPrice float64, exitTime time.Time) (Trade, bool, error) {
	symbol = NormalizeSymbol(symbol)
	cur := *s.tradeHistory.Load()
	next := make([]Trade, len(cur))
	copy(next, cur)

	for i := range next {
		if NormalizeSymbol(next[i].Symbol) != symbol || next[i].Status != TradeOpen {
			continue
		}
		next[i].ExitPrice = exitPrice
		next[i].ExitTime = exitTime
		next[i].PnL = PnL(next[i].Side, next[i].EntryPrice, exitPrice, next[i].Size)
		next[i].Status = TradeClosed
		s.tradeHistory.Store(&next)
		if err := s.saveTradeHistory(next); err != nil {
			return next[i], true, err
		}
		return next[i], true, nil
	}
	return Trade{}, false, nil
}

// ListTrades returns the trade history, most recent first.
func (s *Store) ListTrades() []Trade {
	cur := *s.tradeHistory.Load()
	out := make([]Trade, len(cur))
	copy(out, cur)
	return out
}

func (s *Store) saveTradeHistory(trades []Trade) error {
	err := writeJSONAtomic(s.path(tradeHistoryFile), tradeHistoryDoc{Trades: trades})
	if err != nil {
		s.logger.WithError(err).Error("state: failed to persist trade history")
	}
	return err
}

// --- Reconciliation log (bounded, not persisted) ---------------------------

// AppendReconciliationLog head-inserts an entry, trimming to
// maxReconciliationLogEntries.
func (s *Store) AppendReconciliationLog(action, details string) {
	cur := *s.reconciliationLog.Load()
	next := make([]ReconciliationLogEntry, 0, len(cur)+1)
	next = append(next, ReconciliationLogEntry{Timestamp: time.Now().UTC(), Action: action, Details: details})
	next = append(next, cur...)
	if len(next) > maxReconciliationLogEntries {
		next = next[:maxReconciliationLogEntries]
	}
	s.reconciliationLog.Store(&next)
}

// ListReconciliationLog returns the bounded audit trail, most recent first.
func (s *Store) ListReconciliationLog() []ReconciliationLogEntry {
	cur := *s.reconciliationLog.Load()
	out := make([]ReconciliationLogEntry, len(cur))
	copy(out, cur)
	return out
}

// --- Balance timeline (bounded, persisted) ---------------------------------

// AppendBalancePoint appends bp, trimming the oldest points past
// maxBalanceTimelinePoints, and persists.
func (s *Store) AppendBalancePoint(bp BalancePoint) error {
	cur := *s.balanceTimeline.Load()
	next := make([]BalancePoint, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, bp)
	if len(next) > maxBalanceTimelinePoints {
		next = next[len(next)-maxBalanceTimelinePoints:]
	}
	s.balanceTimeline.Store(&next)
	return s.saveBalanceTimeline(next)
}

// ListBalanceTimeline returns the balance timeline, oldest first.
func (s *Store) ListBalanceTimeline() []BalancePoint {
	cur := *s.balanceTimeline.Load()
	out := make([]BalancePoint, len(cur))
	copy(out, cur)
	return out
}

func (s *Store) saveBalanceTimeline(points []BalancePoint) error {
	err := writeJSONAtomic(s.path(balanceHistoryFile), balanceHistoryDoc{Points: points})
	if err != nil {
		s.logger.WithError(err).Error("state: failed to persist balance timeline")
	}
	return err
}

// --- Metrics --------------------------------------------------------------

// Metrics returns a snapshot of the current metrics, with the two gauges
// (pending_orders_count, open_exchange_orders_count) refreshed from live
// store state.
func (s *Store) Metrics() Metrics {
	m := *s.metrics.Load()
	m.PendingOrdersCount = int64(len(*s.pendingOrders.Load()))
	var openCount int64
	for _, orders := range *s.openOrdersCache.Load() {
		openCount += int64(len(orders))
	}
	m.OpenExchangeOrdersCount = openCount
	return m
}

// IncrementMetric applies field to a copy of the true counters (everything
// except the two live gauges, which are derived in Metrics()), publishes the
// copy atomically, and persists it when persistAfter is true.
func (s *Store) IncrementMetric(field func(*Metrics), persistAfter bool) error {
	cur := *s.metrics.Load()
	next := cur
	field(&next)
	s.metrics.Store(&next)
	if !persistAfter {
		return nil
	}
	return s.saveMetrics(next)
}

func (s *Store) saveMetrics(m Metrics) error {
	err := writeJSONAtomic(s.path(metricsFile), m)
	if err != nil {
		s.logger.WithError(err).Error("state: failed to persist metrics")
	}
	return err
}

// IncPlacedOrders, IncCancelledOrders, IncFilledOrders, IncReconciliationRuns,
// IncReconciliationSkipped, IncDuplicatePlacementAttempts,
// IncOrderCreateRetries, and IncPendingOrderStale bump their named counter by
// one and persist. Reconciliation callers use these directly instead of
// IncrementMetric's generic field-mutator form.
func (s *Store) IncPlacedOrders() error {
	return s.IncrementMetric(func(m *Metrics) { m.PlacedOrdersCount++ }, true)
}

func (s *Store) IncCancelledOrders() error {
	return s.IncrementMetric(func(m *Metrics) { m.CancelledOrdersCount++ }, true)
}

func (s *Store) IncFilledOrders() error {
	return s.IncrementMetric(func(m *Metrics) { m.FilledOrdersCount++ }, true)
}

func (s *Store) IncReconciliationRuns() error {
	return s.IncrementMetric(func(m *Metrics) { m.ReconciliationRunsCount++ }, true)
}

func (s *Store) IncReconciliationSkipped() error {
	return s.IncrementMetric(func(m *Metrics) { m.ReconciliationSkippedCount++ }, true)
}

func (s *Store) IncDuplicatePlacementAttempts() error {
	return s.IncrementMetric(func(m *Metrics) { m.DuplicatePlacementAttempts++ }, true)
}

func (s *Store) IncOrderCreateRetries() error {
	return s.IncrementMetric(func(m *Metrics) { m.OrderCreateRetriesTotal++ }, true)
}

func (s *Store) IncPendingOrderStale() error {
	return s.IncrementMetric(func(m *Metrics) { m.PendingOrderStaleCount++ }, true)
}
