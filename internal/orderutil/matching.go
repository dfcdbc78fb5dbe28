package orderutil

import "github.com/eddiefleurent/orderblock-reconciler/internal/exchange"

// OrderMatchesTarget reports whether order's stop-or-limit price matches
// targetPrice within price tolerance AND its remaining quantity matches
// targetQty within QuantityTolerancePct.
func OrderMatchesTarget(order exchange.Order, targetPrice, targetQty, tick float64) bool {
	orderPrice := order.Price
	if order.StopPrice != 0 {
		orderPrice = order.StopPrice
	}
	if !PricesAreEqual(orderPrice, targetPrice, tick, DefaultPriceTolerancePct) {
		return false
	}

	remaining := order.Remaining
	diff := remaining - targetQty
	if diff < 0 {
		diff = -diff
	}
	allowed := targetQty * QuantityTolerancePct
	if allowed < 0 {
		allowed = -allowed
	}
	return diff <= allowed
}

// ClassifyReduceOnlyOrders splits orders into stop-loss and take-profit
// groups by normalized type; an order of any other type that carries a stop
// price is counted as a stop-loss, and the rest are ignored.
func ClassifyReduceOnlyOrders(orders []exchange.Order) (slOrders, tpOrders []exchange.Order) {
	for _, o := range orders {
		switch {
		case o.Type.IsStopType():
			slOrders = append(slOrders, o)
		case o.Type.IsTakeProfitType():
			tpOrders = append(tpOrders, o)
		case o.StopPrice != 0:
			// Ambiguous vendor type but carries a trigger price; always
			// treated as SL, since no reference price is available here.
			slOrders = append(slOrders, o)
		}
	}
	return slOrders, tpOrders
}

// SelectRepresentative returns the order among candidates that matches
// targetPrice/targetQty within tolerance, or the first candidate if none
// match, or nil if candidates is empty.
func SelectRepresentative(candidates []exchange.Order, targetPrice, targetQty, tick float64) *exchange.Order {
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		if OrderMatchesTarget(candidates[i], targetPrice, targetQty, tick) {
			return &candidates[i]
		}
	}
	return &candidates[0]
}
