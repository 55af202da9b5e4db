package matching

import (
	"container/heap"
	"container/list"

	"go.uber.org/zap"

	"github.com/htf-exchange/matching-engine/internal/domain"
)

// stopStore holds untriggered stop orders, per side, keyed by stop-price,
// plus a best-stop-price index per side (§3 Stop-Order Store). Buy-stops
// trigger when the last trade price rises to meet or pass their stop-price,
// so the buy-stop index is a min-heap (closest-to-triggering first);
// sell-stops trigger on the way down, so the sell-stop index is a max-heap.
type stopStore struct {
	bidLevels map[float64]*list.List
	askLevels map[float64]*list.List
	bidIndex  *priceHeap
	askIndex  *priceHeap
}

func newStopStore() *stopStore {
	s := &stopStore{
		bidLevels: make(map[float64]*list.List),
		askLevels: make(map[float64]*list.List),
		bidIndex:  newPriceHeap(false),
		askIndex:  newPriceHeap(true),
	}
	heap.Init(s.bidIndex)
	heap.Init(s.askIndex)
	return s
}

func (s *stopStore) levelsFor(side domain.Side) map[float64]*list.List {
	if side == domain.Buy {
		return s.bidLevels
	}
	return s.askLevels
}

func (s *stopStore) indexFor(side domain.Side) *priceHeap {
	if side == domain.Buy {
		return s.bidIndex
	}
	return s.askIndex
}

func (s *stopStore) insert(o *domain.Order) {
	levels := s.levelsFor(o.Side)
	l, ok := levels[o.StopPrice]
	if !ok {
		l = list.New()
		levels[o.StopPrice] = l
	}
	l.PushBack(o)
	heap.Push(s.indexFor(o.Side), priceEntry{price: o.StopPrice, seq: o.Seq, orderID: o.ID})
}

func (s *stopStore) count() int {
	n := 0
	for _, l := range s.bidLevels {
		n += l.Len()
	}
	for _, l := range s.askLevels {
		n += l.Len()
	}
	return n
}

// popTriggered pops and returns the single front stop order at the top of
// side's index, along with whether its id was already cancelled (in which
// case the caller should discard it without synthesising a new order). It
// does not check the trigger condition — callers check the price first.
func (s *stopStore) popTriggered(side domain.Side, cancelled map[string]struct{}) (*domain.Order, bool) {
	idx := s.indexFor(side)
	levels := s.levelsFor(side)

	top, ok := idx.peek()
	if !ok {
		return nil, false
	}
	heap.Pop(idx)

	_, wasCancelled := cancelled[top.orderID]
	delete(cancelled, top.orderID)

	level, ok := levels[top.price]
	if !ok || level.Len() == 0 {
		return nil, wasCancelled
	}
	front := level.Front()
	o := front.Value.(*domain.Order)
	if o.ID != top.orderID {
		// Stale entry pointing at an order already removed; nothing to
		// return, but the caller's loop will re-check the new top.
		return nil, true
	}
	level.Remove(front)
	if level.Len() == 0 {
		delete(levels, top.price)
	}
	return o, wasCancelled
}

// checkStopOrders implements §4.4 triggering: after every recorded trade,
// walk the buy-stop index while its head's stop-price <= last-trade-price,
// and the sell-stop index while its head's stop-price >= last-trade-price,
// synthesising and resubmitting each live stop as its underlying kind. It
// is re-entrant with the match loop — resubmission may itself produce
// trades and push last-trade-price further, discovering more stops to
// trigger, which is why this drains iteratively rather than running once.
func (ob *OrderBook) checkStopOrders() {
	if ob.lastPrice == nil {
		return
	}
	last := *ob.lastPrice

	for {
		top, ok := ob.stops.bidIndex.peek()
		if !ok || top.price > last {
			break
		}
		o, wasCancelled := ob.stops.popTriggered(domain.Buy, ob.cancelled)
		delete(ob.orders, top.orderID)
		if wasCancelled || o == nil {
			continue
		}
		ob.triggerStop(o)
	}

	for {
		top, ok := ob.stops.askIndex.peek()
		if !ok || top.price < last {
			break
		}
		o, wasCancelled := ob.stops.popTriggered(domain.Sell, ob.cancelled)
		delete(ob.orders, top.orderID)
		if wasCancelled || o == nil {
			continue
		}
		ob.triggerStop(o)
	}

	ob.logger.Debug("stop store drained",
		zap.String("instrument", ob.Instrument), zap.Int("resting-stops", ob.stops.count()))
}

// triggerStop converts a stopped order into its underlying kind and
// resubmits it through the same dispatch path externally originated orders
// use, then notifies the stop-trigger listener.
func (ob *OrderBook) triggerStop(o *domain.Order) {
	original := o.Kind
	o.Kind = o.Kind.Underlying()
	ob.stopTrigger.OnStopTrigger(StopTriggerEvent{Order: o, OriginalKind: original})
	ob.dispatch(o)
}
