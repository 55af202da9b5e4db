package matching

import (
	"container/heap"
	"container/list"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/htf-exchange/matching-engine/internal/domain"
)

// OrderBook is the per-instrument state machine: price levels keyed by
// price, a lazily-compacted best-price index per side, the cancellation
// set, the stop-order store, and the order map. It owns every resting
// order for its instrument; each is referenced exclusively by exactly one
// price level and the order map (§3 Ownership).
type OrderBook struct {
	Instrument string
	config     EngineConfig

	bidLevels map[float64]*list.List
	askLevels map[float64]*list.List
	bidIndex  *priceHeap
	askIndex  *priceHeap

	cancelled map[string]struct{}
	orders    map[string]*domain.Order

	stops *stopStore

	lastPrice *float64
	lastQty   int
	lastTime  time.Time

	seq uint64

	trades      TradeListener
	discards    DiscardListener
	stopTrigger StopTriggerListener

	logger *zap.Logger
}

// NewOrderBook constructs an empty order book for one instrument. The
// trade/discard/stop-trigger listeners are the book's only way to reach
// outside itself, injected here rather than looked up through a shared
// registry.
func NewOrderBook(instrument string, config EngineConfig, trades TradeListener, discards DiscardListener, stopTrigger StopTriggerListener, logger *zap.Logger) *OrderBook {
	if trades == nil || discards == nil || stopTrigger == nil {
		var n noopListeners
		if trades == nil {
			trades = n
		}
		if discards == nil {
			discards = n
		}
		if stopTrigger == nil {
			stopTrigger = n
		}
	}
	ob := &OrderBook{
		Instrument:  instrument,
		config:      config,
		bidLevels:   make(map[float64]*list.List),
		askLevels:   make(map[float64]*list.List),
		bidIndex:    newPriceHeap(true),
		askIndex:    newPriceHeap(false),
		cancelled:   make(map[string]struct{}),
		orders:      make(map[string]*domain.Order),
		stops:       newStopStore(),
		trades:      trades,
		discards:    discards,
		stopTrigger: stopTrigger,
		logger:      logger,
	}
	heap.Init(ob.bidIndex)
	heap.Init(ob.askIndex)
	return ob
}

func (ob *OrderBook) levelsFor(side domain.Side) map[float64]*list.List {
	if side == domain.Buy {
		return ob.bidLevels
	}
	return ob.askLevels
}

func (ob *OrderBook) indexFor(side domain.Side) *priceHeap {
	if side == domain.Buy {
		return ob.bidIndex
	}
	return ob.askIndex
}

func (ob *OrderBook) nextSeq() uint64 {
	ob.seq++
	return ob.seq
}

// compact enforces §4.2's lazy-deletion invariant: the head of the
// best-price index for side refers to a live order at a live price level.
// It must run before every read of the head and at the start of every
// match-loop iteration.
func (ob *OrderBook) compact(side domain.Side) {
	idx := ob.indexFor(side)
	levels := ob.levelsFor(side)

	for idx.Len() > 0 {
		top, _ := idx.peek()

		_, cancelledHit := ob.cancelled[top.orderID]
		_, known := ob.orders[top.orderID]
		if !cancelledHit && known {
			return
		}

		heap.Pop(idx)
		delete(ob.cancelled, top.orderID)

		level, ok := levels[top.price]
		if !ok || level.Len() == 0 {
			continue
		}
		front := level.Front()
		if front.Value.(*domain.Order).ID != top.orderID {
			continue
		}
		level.Remove(front)
		delete(ob.orders, top.orderID)
		if level.Len() == 0 {
			delete(levels, top.price)
		}
	}
}

// BestBid returns the best resting bid price, compacting first. Nil if the
// book has no live bids.
func (ob *OrderBook) BestBid() *float64 {
	ob.compact(domain.Buy)
	top, ok := ob.bidIndex.peek()
	if !ok {
		return nil
	}
	p := top.price
	return &p
}

// BestAsk returns the best resting ask price, compacting first. Nil if the
// book has no live asks.
func (ob *OrderBook) BestAsk() *float64 {
	ob.compact(domain.Sell)
	top, ok := ob.askIndex.peek()
	if !ok {
		return nil
	}
	p := top.price
	return &p
}

// BestBidQuantity sums the live quantity resting at the current best bid.
func (ob *OrderBook) BestBidQuantity() int {
	return ob.levelQuantity(domain.Buy, ob.BestBid())
}

// BestAskQuantity sums the live quantity resting at the current best ask.
func (ob *OrderBook) BestAskQuantity() int {
	return ob.levelQuantity(domain.Sell, ob.BestAsk())
}

func (ob *OrderBook) levelQuantity(side domain.Side, price *float64) int {
	if price == nil {
		return 0
	}
	level, ok := ob.levelsFor(side)[*price]
	if !ok {
		return 0
	}
	total := 0
	for e := level.Front(); e != nil; e = e.Next() {
		o := e.Value.(*domain.Order)
		if _, cancelled := ob.cancelled[o.ID]; !cancelled {
			total += o.Quantity
		}
	}
	return total
}

// LastTrade returns the last trade price, quantity, and timestamp recorded
// on this book. ok is false if no trade has happened yet.
func (ob *OrderBook) LastTrade() (price float64, qty int, timestamp time.Time, ok bool) {
	if ob.lastPrice == nil {
		return 0, 0, time.Time{}, false
	}
	return *ob.lastPrice, ob.lastQty, ob.lastTime, true
}

// PendingOrders returns every known order excluding those in the
// cancellation set — resting orders and untriggered stops alike.
func (ob *OrderBook) PendingOrders() []*domain.Order {
	out := make([]*domain.Order, 0, len(ob.orders))
	for id, o := range ob.orders {
		if _, cancelled := ob.cancelled[id]; cancelled {
			continue
		}
		out = append(out, o)
	}
	return out
}

// DepthLevel is one aggregated price/quantity pair for an L2 view.
type DepthLevel struct {
	Price    float64
	Quantity int
}

// Depth returns up to depth aggregated price levels per side, best first,
// cancelled orders excluded, empty levels skipped.
func (ob *OrderBook) Depth(depth int) (bids, asks []DepthLevel) {
	ob.compact(domain.Buy)
	ob.compact(domain.Sell)
	bids = aggregateLevels(ob.bidLevels, ob.cancelled, true, depth)
	asks = aggregateLevels(ob.askLevels, ob.cancelled, false, depth)
	return bids, asks
}

func aggregateLevels(levels map[float64]*list.List, cancelled map[string]struct{}, descending bool, depth int) []DepthLevel {
	prices := make([]float64, 0, len(levels))
	for price, l := range levels {
		qty := 0
		for e := l.Front(); e != nil; e = e.Next() {
			o := e.Value.(*domain.Order)
			if _, isCancelled := cancelled[o.ID]; !isCancelled {
				qty += o.Quantity
			}
		}
		if qty > 0 {
			prices = append(prices, price)
		}
	}
	sortFloats(prices, descending)

	out := make([]DepthLevel, 0, len(prices))
	for _, price := range prices {
		if depth > 0 && len(out) >= depth {
			break
		}
		l := levels[price]
		qty := 0
		for e := l.Front(); e != nil; e = e.Next() {
			o := e.Value.(*domain.Order)
			if _, isCancelled := cancelled[o.ID]; !isCancelled {
				qty += o.Quantity
			}
		}
		out = append(out, DepthLevel{Price: price, Quantity: qty})
	}
	return out
}

func sortFloats(a []float64, descending bool) {
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && ((descending && a[j] < v) || (!descending && a[j] > v)) {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

// OrderDetail is one order's L3 representation.
type OrderDetail struct {
	OrderID   string
	Quantity  int
	UserID    string
	OrderType domain.Kind
	Timestamp time.Time
}

// L3 returns full per-order depth, FIFO order preserved, cancelled orders
// excluded.
func (ob *OrderBook) L3() (bids, asks map[float64][]OrderDetail) {
	ob.compact(domain.Buy)
	ob.compact(domain.Sell)
	return l3Side(ob.bidLevels, ob.cancelled), l3Side(ob.askLevels, ob.cancelled)
}

func l3Side(levels map[float64]*list.List, cancelled map[string]struct{}) map[float64][]OrderDetail {
	out := make(map[float64][]OrderDetail, len(levels))
	for price, l := range levels {
		var details []OrderDetail
		for e := l.Front(); e != nil; e = e.Next() {
			o := e.Value.(*domain.Order)
			if _, isCancelled := cancelled[o.ID]; isCancelled {
				continue
			}
			details = append(details, OrderDetail{
				OrderID:   o.ID,
				Quantity:  o.Quantity,
				UserID:    o.ParticipantID,
				OrderType: o.Kind,
				Timestamp: o.CreatedAt,
			})
		}
		if len(details) > 0 {
			out[price] = details
		}
	}
	return out
}

// Cancel marks order-id as cancelled. Physical removal is deferred to
// compaction or encounter during matching. Returns false for an unknown id;
// idempotent for an id already cancelled.
func (ob *OrderBook) Cancel(orderID string) bool {
	if _, ok := ob.orders[orderID]; !ok {
		return false
	}
	ob.cancelled[orderID] = struct{}{}
	return true
}

// OrderByID returns the live order for an id, or nil if unknown or already
// cancelled.
func (ob *OrderBook) OrderByID(orderID string) *domain.Order {
	if _, cancelled := ob.cancelled[orderID]; cancelled {
		return nil
	}
	return ob.orders[orderID]
}

func newOrderID() string {
	return uuid.New().String()
}

// insertResting adds a freshly-matched (or never-matching) order to its
// side's FIFO level and best-price index and registers it in the order
// map. Called by the leftover policy of limit-like matchers.
func (ob *OrderBook) insertResting(o *domain.Order) {
	levels := ob.levelsFor(o.Side)
	l, ok := levels[o.Price]
	if !ok {
		l = list.New()
		levels[o.Price] = l
	}
	l.PushBack(o)
	heap.Push(ob.indexFor(o.Side), priceEntry{price: o.Price, seq: o.Seq, orderID: o.ID})
	ob.orders[o.ID] = o
}

// popFrontAt removes and returns the FIFO head at price on side, deleting
// it from the order map; it does not touch the best-price index (the index
// entry is pruned lazily by the next compact()). Callers use this when an
// order is fully filled during matching.
func (ob *OrderBook) popFrontAt(side domain.Side, price float64) *domain.Order {
	levels := ob.levelsFor(side)
	l, ok := levels[price]
	if !ok || l.Len() == 0 {
		return nil
	}
	front := l.Front()
	o := front.Value.(*domain.Order)
	l.Remove(front)
	delete(ob.orders, o.ID)
	if l.Len() == 0 {
		delete(levels, price)
	}
	return o
}
