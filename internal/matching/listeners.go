package matching

import "github.com/htf-exchange/matching-engine/internal/domain"

// TradeListener and DiscardListener are the two narrow collaborator
// interfaces an order book calls into, injected at construction time. They
// let the exchange coordinator settle accounts without the book holding any
// reference to participant state — avoids shared mutable state or a global
// singleton, per the teacher's callback-based wiring between the engine and
// its consumers.
type TradeListener interface {
	OnTrade(trade domain.Trade)
}

// DiscardListener is notified whenever an incoming order (or its unfilled
// remainder) is rejected or vaporised mid-process: FOK insufficient
// liquidity, a post-only violation, a self-trade abort, or market/IOC
// leftover. Order.Quantity at the time of the call is the amount that never
// traded, i.e. the amount the caller should unwind from outstanding.
type DiscardListener interface {
	OnDiscard(order *domain.Order)
}

// StopTriggerEvent describes a stop order at the moment it fires: Order has
// already been converted to its underlying kind and is about to be
// dispatched through the match loop; OriginalKind preserves what it was
// held as (stop-limit or stop-market) for logging.
type StopTriggerEvent struct {
	Order        *domain.Order
	OriginalKind domain.Kind
}

// StopTriggerListener is notified when a resting stop order is pulled from
// the stop store and resubmitted as its underlying kind.
type StopTriggerListener interface {
	OnStopTrigger(event StopTriggerEvent)
}

type noopListeners struct{}

func (noopListeners) OnTrade(domain.Trade)           {}
func (noopListeners) OnDiscard(*domain.Order)        {}
func (noopListeners) OnStopTrigger(StopTriggerEvent) {}
