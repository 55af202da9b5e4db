package matching

import (
	"time"

	"go.uber.org/zap"

	"github.com/htf-exchange/matching-engine/internal/domain"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

// SubmitRequest is the wire-shaped request accepted by Submit: raw side/kind
// strings (validated here, not by the caller) and optional price fields.
type SubmitRequest struct {
	ParticipantID string
	Side          string
	Kind          string
	Quantity      int
	Price         *float64
	StopPrice     *float64
}

// ParseSide validates a wire-format side string.
func ParseSide(s string) (domain.Side, bool) {
	switch domain.Side(s) {
	case domain.Buy, domain.Sell:
		return domain.Side(s), true
	}
	return "", false
}

// ParseKind validates a wire-format order-kind string.
func ParseKind(s string) (domain.Kind, bool) {
	switch domain.Kind(s) {
	case domain.Limit, domain.Market, domain.IOC, domain.FOK, domain.PostOnly, domain.StopLimit, domain.StopMarket:
		return domain.Kind(s), true
	}
	return "", false
}

// ValidateFields checks that a kind's required price/stop-price fields are
// present and that no disallowed field is set (§4.1: "Fails with
// InvalidOrderType when required fields for the kind are missing"). It is
// exported so callers that enforce admission before committing any
// participant-side state (the exchange coordinator) can pre-validate
// before incrementing outstanding quantities; Submit also runs it.
func ValidateFields(kind domain.Kind, hasPrice, hasStopPrice bool) error {
	switch kind {
	case domain.Market:
		if hasPrice {
			return exerrors.New(exerrors.InvalidOrderType, "market orders must not carry a limit price")
		}
	case domain.Limit, domain.IOC, domain.FOK, domain.PostOnly:
		if !hasPrice {
			return exerrors.Newf(exerrors.InvalidOrderType, "%s orders require a limit price", kind)
		}
	case domain.StopMarket:
		if !hasStopPrice {
			return exerrors.New(exerrors.InvalidOrderType, "stop-market orders require a stop price")
		}
		if hasPrice {
			return exerrors.New(exerrors.InvalidOrderType, "stop-market orders must not carry a limit price")
		}
	case domain.StopLimit:
		if !hasStopPrice || !hasPrice {
			return exerrors.New(exerrors.InvalidOrderType, "stop-limit orders require both a stop price and a limit price")
		}
	}
	return nil
}

// Submit allocates an id and timestamp, validates the request against its
// kind's required fields, and either routes it to the stop store or
// dispatches it to the matcher for its kind (§4.1). On success it returns
// the new order's id whether or not it rested.
func (ob *OrderBook) Submit(req SubmitRequest) (string, error) {
	side, ok := ParseSide(req.Side)
	if !ok {
		return "", exerrors.Newf(exerrors.InvalidOrderSide, "unknown order side %q", req.Side)
	}
	kind, ok := ParseKind(req.Kind)
	if !ok {
		return "", exerrors.Newf(exerrors.InvalidOrderType, "unknown order kind %q", req.Kind)
	}
	if req.Quantity <= 0 {
		return "", exerrors.New(exerrors.InvalidOrderQuantity, "order quantity must be positive")
	}
	if err := ValidateFields(kind, req.Price != nil, req.StopPrice != nil); err != nil {
		return "", err
	}

	o := &domain.Order{
		ID:            newOrderID(),
		ParticipantID: req.ParticipantID,
		Instrument:    ob.Instrument,
		Side:          side,
		Kind:          kind,
		Quantity:      req.Quantity,
		CreatedAt:     time.Now(),
		Seq:           ob.nextSeq(),
	}
	if req.Price != nil {
		o.Price = *req.Price
	}
	if req.StopPrice != nil {
		o.StopPrice = *req.StopPrice
	}

	if kind.IsStop() {
		if err := ob.validateStopPrice(o); err != nil {
			ob.discards.OnDiscard(o)
			return "", err
		}
		ob.stops.insert(o)
		ob.orders[o.ID] = o
		return o.ID, nil
	}

	if err := ob.dispatch(o); err != nil {
		return o.ID, err
	}
	return o.ID, nil
}

// Modify implements §4.1's three-way modify contract. It returns ok=false
// when the target id is unknown or already cancelled (non-exceptional,
// mirroring Cancel).
func (ob *OrderBook) Modify(orderID string, newQty int, newPrice float64, newStopPrice *float64) (string, bool) {
	if newQty <= 0 {
		return "", false
	}
	o, ok := ob.orders[orderID]
	if !ok {
		return "", false
	}
	if _, cancelled := ob.cancelled[orderID]; cancelled {
		return "", false
	}

	if o.Kind.IsStop() {
		stopPrice := o.StopPrice
		if newStopPrice != nil {
			stopPrice = *newStopPrice
		}
		ob.Cancel(orderID)
		req := SubmitRequest{
			ParticipantID: o.ParticipantID,
			Side:          string(o.Side),
			Kind:          string(o.Kind),
			Quantity:      newQty,
			StopPrice:     &stopPrice,
		}
		if o.Kind == domain.StopLimit {
			req.Price = &newPrice
		}
		id, err := ob.Submit(req)
		if err != nil {
			return "", false
		}
		return id, true
	}

	if newQty <= o.Quantity && newPrice == o.Price {
		o.Quantity = newQty
		return o.ID, true
	}

	ob.Cancel(orderID)
	req := SubmitRequest{
		ParticipantID: o.ParticipantID,
		Side:          string(o.Side),
		Kind:          string(o.Kind),
		Quantity:      newQty,
	}
	if o.Kind != domain.Market {
		req.Price = &newPrice
	}
	id, err := ob.Submit(req)
	if err != nil {
		return "", false
	}
	return id, true
}

func (ob *OrderBook) validateStopPrice(o *domain.Order) error {
	if ob.lastPrice == nil {
		return nil
	}
	last := *ob.lastPrice
	if o.IsBuy() {
		if o.StopPrice <= last {
			return exerrors.New(exerrors.InvalidStopPrice, "buy stop price must exceed the last trade price").WithDetail("is-buy", true)
		}
		return nil
	}
	if o.StopPrice >= last {
		return exerrors.New(exerrors.InvalidStopPrice, "sell stop price must be below the last trade price").WithDetail("is-buy", false)
	}
	return nil
}

// dispatch routes an already-validated order to the matcher for its kind.
// Used both for freshly submitted orders and for stops resubmitted as their
// underlying kind after triggering.
func (ob *OrderBook) dispatch(o *domain.Order) error {
	switch o.Kind {
	case domain.Limit:
		return ob.executeMatch(o, priceOkFor(o), restLeftover)
	case domain.Market:
		return ob.executeMatch(o, alwaysOk, discardLeftover)
	case domain.IOC:
		return ob.executeMatch(o, priceOkFor(o), discardLeftover)
	case domain.FOK:
		if !ob.sufficientLiquidity(o, priceOkFor(o)) {
			ob.discards.OnDiscard(o)
			return exerrors.Newf(exerrors.FOKInsufficientLiquidity, "insufficient liquidity to fill %d units", o.Quantity).WithDetail("order-id", o.ID)
		}
		return ob.executeMatch(o, priceOkFor(o), discardLeftover)
	case domain.PostOnly:
		if ob.wouldCross(o) {
			ob.discards.OnDiscard(o)
			return exerrors.New(exerrors.PostOnlyViolation, "post-only order would have crossed the book").WithDetail("order-id", o.ID)
		}
		return ob.executeMatch(o, neverOk, restLeftover)
	default:
		return exerrors.Newf(exerrors.MatcherTypeMismatch, "order kind %q reached the match dispatcher unhandled", o.Kind)
	}
}

func priceOkFor(o *domain.Order) func(float64) bool {
	if o.IsBuy() {
		return func(p float64) bool { return p <= o.Price }
	}
	return func(p float64) bool { return p >= o.Price }
}

func alwaysOk(float64) bool { return true }
func neverOk(float64) bool  { return false }

func restLeftover(ob *OrderBook, o *domain.Order) { ob.insertResting(o) }

func discardLeftover(ob *OrderBook, o *domain.Order) { ob.discards.OnDiscard(o) }

// sortedOppositePrices returns the opposite side's live price levels in
// natural best-first order for o: ascending ask prices for a buy, or
// descending bid prices for a sell.
func (ob *OrderBook) sortedOppositePrices(o *domain.Order) []float64 {
	levels := ob.levelsFor(o.Side.Opposite())
	prices := make([]float64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sortFloats(prices, o.IsSell())
	return prices
}

// selfTradeCheck implements §4.3 step 1: scan the opposite side in natural
// order, summing live quantity until it meets O's quantity or price-ok
// fails. Returns true the moment a resting order from the same participant
// is encountered.
func (ob *OrderBook) selfTradeCheck(o *domain.Order, priceOk func(float64) bool) bool {
	if !ob.config.STPEnabled {
		return false
	}
	cum := 0
	for _, price := range ob.sortedOppositePrices(o) {
		if !priceOk(price) {
			break
		}
		level := ob.levelsFor(o.Side.Opposite())[price]
		for e := level.Front(); e != nil; e = e.Next() {
			ro := e.Value.(*domain.Order)
			if _, cancelled := ob.cancelled[ro.ID]; cancelled {
				continue
			}
			if ro.ParticipantID == o.ParticipantID {
				return true
			}
			cum += ro.Quantity
			if cum >= o.Quantity {
				return false
			}
		}
	}
	return false
}

// sufficientLiquidity is the FOK pre-check: true once cumulative opposite
// quantity across satisfying price levels reaches o.Quantity.
func (ob *OrderBook) sufficientLiquidity(o *domain.Order, priceOk func(float64) bool) bool {
	cum := 0
	for _, price := range ob.sortedOppositePrices(o) {
		if !priceOk(price) {
			break
		}
		p := price
		cum += ob.levelQuantity(o.Side.Opposite(), &p)
		if cum >= o.Quantity {
			return true
		}
	}
	return cum >= o.Quantity
}

// wouldCross is the post-only pre-check: a buy crosses if it is priced at
// or above the best ask; a sell crosses if priced at or below the best bid.
func (ob *OrderBook) wouldCross(o *domain.Order) bool {
	if o.IsBuy() {
		ask := ob.BestAsk()
		return ask != nil && o.Price >= *ask
	}
	bid := ob.BestBid()
	return bid != nil && o.Price <= *bid
}

// executeMatch is the generic loop shared by every matcher (§4.3): a
// pre-trade self-trade check, then repeated compaction + fill against the
// opposite side while price-ok holds, finishing with the leftover policy if
// quantity remains.
func (ob *OrderBook) executeMatch(o *domain.Order, priceOk func(float64) bool, leftover func(*OrderBook, *domain.Order)) error {
	if ob.selfTradeCheck(o, priceOk) {
		ob.discards.OnDiscard(o)
		return exerrors.New(exerrors.SelfTradePrevention, "order would trade against the submitter's own resting order").
			WithDetail("order-id", o.ID).
			WithDetail("user-id", o.ParticipantID)
	}

	opposite := o.Side.Opposite()

	for o.Quantity > 0 {
		ob.compact(opposite)
		top, ok := ob.indexFor(opposite).peek()
		if !ok || !priceOk(top.price) {
			break
		}
		r := ob.frontAt(opposite, top.price)
		if r == nil {
			ob.logger.Warn("best-price index pointed at an empty level after compaction",
				zap.String("instrument", ob.Instrument), zap.Float64("price", top.price))
			break
		}

		tradeQty := o.Quantity
		if r.Quantity < tradeQty {
			tradeQty = r.Quantity
		}
		tradePrice := r.Price

		o.Quantity -= tradeQty
		r.Quantity -= tradeQty

		trade := ob.buildTrade(o, r, tradePrice, tradeQty)
		ob.trades.OnTrade(trade)

		if r.Quantity == 0 {
			ob.popFrontAt(opposite, top.price)
		}

		ob.lastPrice = &tradePrice
		ob.lastQty = tradeQty
		ob.lastTime = trade.Timestamp
		ob.checkStopOrders()
	}

	if o.Quantity > 0 {
		leftover(ob, o)
	}
	return nil
}

func (ob *OrderBook) frontAt(side domain.Side, price float64) *domain.Order {
	l, ok := ob.levelsFor(side)[price]
	if !ok || l.Len() == 0 {
		return nil
	}
	return l.Front().Value.(*domain.Order)
}

func (ob *OrderBook) buildTrade(o, r *domain.Order, price float64, qty int) domain.Trade {
	trade := domain.Trade{
		Timestamp:  time.Now(),
		Instrument: ob.Instrument,
		Price:      price,
		Quantity:   qty,
		Aggressor:  o.Side,
	}
	if o.IsBuy() {
		trade.BuyParticipantID, trade.BuyOrderID = o.ParticipantID, o.ID
		trade.SellParticipantID, trade.SellOrderID = r.ParticipantID, r.ID
	} else {
		trade.SellParticipantID, trade.SellOrderID = o.ParticipantID, o.ID
		trade.BuyParticipantID, trade.BuyOrderID = r.ParticipantID, r.ID
	}
	return trade
}
