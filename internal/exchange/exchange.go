// Package exchange implements the Exchange Coordinator (§4.5): participant
// registration, instrument/book lifecycle, order routing and admission,
// callback-driven settlement of trades against participant accounts, and
// permission-gated L1/L2/L3 read views.
package exchange

import (
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/htf-exchange/matching-engine/internal/account"
	"github.com/htf-exchange/matching-engine/internal/domain"
	"github.com/htf-exchange/matching-engine/internal/matching"
	"github.com/htf-exchange/matching-engine/internal/tradelog"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

// Permission levels gate the depth of read view a participant may request
// (§4.5): L1 is open to any registered participant, L2 and L3 require the
// matching or higher permission level.
const (
	PermissionL1 = 1
	PermissionL2 = 2
	PermissionL3 = 3
)

// Exchange is the single coordinator for every participant and instrument
// in one venue. It is the sole TradeListener, DiscardListener, and
// StopTriggerListener for every order book it owns, the way the teacher's
// engine is the sole collaborator its component parts call back into.
type Exchange struct {
	config Config

	accounts map[string]*account.Account
	books    map[string]*matching.OrderBook

	trades     *tradelog.TradeLog
	feeBalance float64

	depthCache *cache.Cache

	logger *zap.Logger
}

// New constructs an empty exchange with no registered participants or
// instruments.
func New(config Config, logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		config:     config,
		accounts:   make(map[string]*account.Account),
		books:      make(map[string]*matching.OrderBook),
		trades:     tradelog.New(),
		depthCache: cache.New(config.L2CacheTTL, 2*config.L2CacheTTL),
		logger:     logger,
	}
}

// RegisterParticipant admits a new participant at the given initial cash
// and permission level. Fails with DuplicateUser if the id is already
// registered (§3).
func (ex *Exchange) RegisterParticipant(id, displayName string, initialCash float64, permissionLevel int) error {
	if _, exists := ex.accounts[id]; exists {
		return exerrors.Newf(exerrors.DuplicateUser, "participant %s is already registered", id)
	}
	acc := account.New(id, displayName, initialCash, ex.config.DefaultPositionLimit, ex.logger)
	if err := acc.Register(permissionLevel); err != nil {
		return err
	}
	ex.accounts[id] = acc
	return nil
}

// AddInstrument opens a fresh, empty order book for instrument. Calling it
// again for an already-known instrument is a no-op — instrument admission
// is idempotent, there being no teardown operation in scope.
func (ex *Exchange) AddInstrument(instrument string, stpEnabled bool) {
	if _, exists := ex.books[instrument]; exists {
		return
	}
	cfg := matching.DefaultEngineConfig()
	cfg.STPEnabled = stpEnabled
	ex.books[instrument] = matching.NewOrderBook(instrument, cfg, ex, ex, ex, ex.logger)
}

func (ex *Exchange) lookupAccount(participantID string) (*account.Account, error) {
	acc, ok := ex.accounts[participantID]
	if !ok {
		return nil, exerrors.Newf(exerrors.UserNotFound, "participant %s is not registered", participantID)
	}
	return acc, nil
}

func (ex *Exchange) lookupBook(instrument string) (*matching.OrderBook, error) {
	book, ok := ex.books[instrument]
	if !ok {
		return nil, exerrors.Newf(exerrors.InstrumentNotFound, "instrument %s is not known to this exchange", instrument)
	}
	return book, nil
}

// PlaceOrder is the single admission path for every order kind (§4.5): it
// checks participant and instrument existence, pre-validates side/kind/
// fields before touching any outstanding quota (so a rejection here never
// needs a compensating rollback), checks the position-limit quota, commits
// outstanding, and delegates to the book. A rejection raised by the book
// itself (invalid stop price, self-trade, FOK, post-only) always invokes
// OnDiscard, which undoes the outstanding commit made here.
func (ex *Exchange) PlaceOrder(participantID, instrument, kind, side string, qty int, price, stopPrice *float64) (string, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return "", err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return "", err
	}

	s, ok := matching.ParseSide(side)
	if !ok {
		return "", exerrors.Newf(exerrors.InvalidOrderSide, "unknown order side %q", side)
	}
	k, ok := matching.ParseKind(kind)
	if !ok {
		return "", exerrors.Newf(exerrors.InvalidOrderType, "unknown order kind %q", kind)
	}
	if qty <= 0 {
		return "", exerrors.New(exerrors.InvalidOrderQuantity, "order quantity must be positive")
	}
	if err := matching.ValidateFields(k, price != nil, stopPrice != nil); err != nil {
		return "", err
	}

	if !acc.CanPlaceOrder(instrument, s, qty) {
		buyQuota, sellQuota := acc.RemainingQuota(instrument)
		quota := buyQuota
		if s == domain.Sell {
			quota = sellQuota
		}
		return "", exerrors.New(exerrors.OrderExceedsPositionLimit, "order exceeds the participant's position-limit quota").
			WithDetail("instrument", instrument).
			WithDetail("side", s).
			WithDetail("quantity", qty).
			WithDetail("quota", quota)
	}

	if s == domain.Buy {
		acc.IncreaseOutstandingBuys(instrument, qty)
	} else {
		acc.IncreaseOutstandingSells(instrument, qty)
	}

	orderID, err := book.Submit(matching.SubmitRequest{
		ParticipantID: participantID,
		Side:          side,
		Kind:          kind,
		Quantity:      qty,
		Price:         price,
		StopPrice:     stopPrice,
	})
	if err != nil {
		return orderID, err
	}

	acc.Log.RecordPlaceOrder(instrument, k, s, qty, price)
	ex.invalidateDepth(instrument)
	return orderID, nil
}

// CancelOrder cancels a resting or stopped order on behalf of its owning
// participant, releasing its outstanding commitment. It returns false
// (non-exceptional) for an unknown participant, instrument, order id, or an
// order owned by a different participant.
func (ex *Exchange) CancelOrder(participantID, instrument, orderID string) bool {
	acc, ok := ex.accounts[participantID]
	if !ok {
		return false
	}
	book, ok := ex.books[instrument]
	if !ok {
		return false
	}
	o := book.OrderByID(orderID)
	if o == nil || o.ParticipantID != participantID {
		return false
	}
	remaining, side := o.Quantity, o.Side
	if !book.Cancel(orderID) {
		return false
	}
	if side == domain.Buy {
		acc.ReduceOutstandingBuys(instrument, remaining)
	} else {
		acc.ReduceOutstandingSells(instrument, remaining)
	}
	acc.Log.RecordCancelOrder(orderID, instrument)
	ex.invalidateDepth(instrument)
	return true
}

// ModifyOrder applies §4.1's three-way modify contract on behalf of the
// owning participant, adjusting outstanding by the signed quantity change.
// It returns ok=false under the same conditions as CancelOrder, or if the
// book itself rejects the modification.
func (ex *Exchange) ModifyOrder(participantID, instrument, orderID string, newQty int, newPrice float64, newStopPrice *float64) (string, bool) {
	acc, ok := ex.accounts[participantID]
	if !ok {
		return "", false
	}
	book, ok := ex.books[instrument]
	if !ok {
		return "", false
	}
	o := book.OrderByID(orderID)
	if o == nil || o.ParticipantID != participantID {
		return "", false
	}
	oldQty, side := o.Quantity, o.Side

	newID, ok := book.Modify(orderID, newQty, newPrice, newStopPrice)
	if !ok {
		return "", false
	}

	qtyChange := newQty - oldQty
	switch {
	case qtyChange > 0 && side == domain.Buy:
		acc.IncreaseOutstandingBuys(instrument, qtyChange)
	case qtyChange > 0:
		acc.IncreaseOutstandingSells(instrument, qtyChange)
	case qtyChange < 0 && side == domain.Buy:
		acc.ReduceOutstandingBuys(instrument, -qtyChange)
	case qtyChange < 0:
		acc.ReduceOutstandingSells(instrument, -qtyChange)
	}

	acc.Log.RecordModifyOrder(orderID, instrument, newQty, acc.CashBalance)
	ex.invalidateDepth(instrument)
	return newID, true
}

// CashIn credits a participant's account.
func (ex *Exchange) CashIn(participantID string, amount float64) error {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return err
	}
	acc.CashIn(amount)
	return nil
}

// CashOut debits a participant's account, failing with InsufficientBalance
// if it would overdraw.
func (ex *Exchange) CashOut(participantID string, amount float64) error {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return err
	}
	return acc.CashOut(amount)
}

// OnTrade implements matching.TradeListener: it records the fill in the
// trade log and applies it to both participants' accounts, debiting the
// flat fee from each side and crediting it to the exchange's fee balance.
func (ex *Exchange) OnTrade(trade domain.Trade) {
	if err := ex.trades.Record(trade); err != nil {
		ex.logger.Warn("rejected malformed trade record", zap.Error(err))
	}

	if buyer, ok := ex.accounts[trade.BuyParticipantID]; ok {
		buyer.ApplyFill(trade, trade.Instrument, ex.config.Fee)
	}
	if seller, ok := ex.accounts[trade.SellParticipantID]; ok {
		seller.ApplyFill(trade, trade.Instrument, ex.config.Fee)
	}
	ex.feeBalance += 2 * ex.config.Fee
	ex.invalidateDepth(trade.Instrument)
}

// OnDiscard implements matching.DiscardListener: it releases the
// outstanding commitment PlaceOrder made for the unfilled remainder of a
// rejected or vaporised order.
func (ex *Exchange) OnDiscard(order *domain.Order) {
	acc, ok := ex.accounts[order.ParticipantID]
	if !ok || order.Quantity == 0 {
		return
	}
	if order.IsBuy() {
		acc.ReduceOutstandingBuys(order.Instrument, order.Quantity)
	} else {
		acc.ReduceOutstandingSells(order.Instrument, order.Quantity)
	}
}

// OnStopTrigger implements matching.StopTriggerListener: it records the
// trigger in the owning participant's action log.
func (ex *Exchange) OnStopTrigger(event matching.StopTriggerEvent) {
	o := event.Order
	acc, ok := ex.accounts[o.ParticipantID]
	if !ok {
		return
	}
	acc.Log.RecordStopTriggered(o.Instrument, event.OriginalKind, o.Kind, o.Side, o.Quantity, o.StopPrice, nil)
}

func (ex *Exchange) invalidateDepth(instrument string) {
	ex.depthCache.Delete(l2CacheKey(instrument))
}

func l2CacheKey(instrument string) string { return "l2:" + instrument }

// GetPositions returns a defensive copy of a participant's non-zero
// positions.
func (ex *Exchange) GetPositions(participantID string) (map[string]account.Position, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return nil, err
	}
	return acc.Positions(), nil
}

// GetCashBalance returns a participant's current cash balance.
func (ex *Exchange) GetCashBalance(participantID string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	return acc.CashBalance, nil
}

// GetRealisedPnL returns a participant's cumulative realised P&L.
func (ex *Exchange) GetRealisedPnL(participantID string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	return acc.RealisedPnL, nil
}

// GetUnrealisedPnL returns a participant's mark-to-market P&L on instrument
// against its current last trade price. Undefined (0) if instrument has not
// traded yet.
func (ex *Exchange) GetUnrealisedPnL(participantID, instrument string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return 0, err
	}
	price, _, _, ok := book.LastTrade()
	if !ok {
		return 0, nil
	}
	return acc.UnrealisedPnL(instrument, price), nil
}

// GetTotalUnrealisedPnL sums mark-to-market P&L across every instrument a
// participant holds, each position marked against its own book's last
// trade price. An instrument with no trades yet contributes 0.
func (ex *Exchange) GetTotalUnrealisedPnL(participantID string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for instrument := range acc.Positions() {
		book, ok := ex.books[instrument]
		if !ok {
			continue
		}
		price, _, _, ok := book.LastTrade()
		if !ok {
			continue
		}
		total += acc.UnrealisedPnL(instrument, price)
	}
	return total, nil
}

// GetExposure returns the notional value of a participant's position in
// instrument, marked at the instrument's last trade price rather than the
// position's average cost — the two diverge whenever the market has moved
// since entry, which is the normal case (§6).
func (ex *Exchange) GetExposure(participantID, instrument string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return 0, err
	}
	price, _, _, ok := book.LastTrade()
	if !ok {
		return 0, nil
	}
	pos := acc.Position(instrument)
	qty := pos.Quantity
	if qty < 0 {
		qty = -qty
	}
	return float64(qty) * price, nil
}

// GetTotalExposure sums notional exposure across every instrument a
// participant holds, each position marked at its own book's last trade
// price.
func (ex *Exchange) GetTotalExposure(participantID string) (float64, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for instrument := range acc.Positions() {
		exposure, err := ex.GetExposure(participantID, instrument)
		if err != nil {
			return 0, err
		}
		total += exposure
	}
	return total, nil
}

// GetRemainingQuota returns how much more a participant may buy or sell of
// instrument without breaching its position-limit quota.
func (ex *Exchange) GetRemainingQuota(participantID, instrument string) (buyQuota, sellQuota int, err error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return 0, 0, err
	}
	buyQuota, sellQuota = acc.RemainingQuota(instrument)
	return buyQuota, sellQuota, nil
}

func (ex *Exchange) requirePermission(acc *account.Account, level int) error {
	if acc.PermissionLevel < level {
		return exerrors.New(exerrors.PermissionDenied, "participant's permission level is insufficient for this read view").
			WithDetail("required", level).
			WithDetail("actual", acc.PermissionLevel)
	}
	return nil
}

// L1 is the top-of-book summary view, open to any registered participant.
type L1 struct {
	Instrument   string
	BestBid      *float64
	BestBidQty   int
	BestAsk      *float64
	BestAskQty   int
	LastPrice    *float64
	LastQuantity int
	Timestamp    *time.Time
}

// GetL1 returns the top-of-book view for instrument.
func (ex *Exchange) GetL1(participantID, instrument string) (L1, error) {
	if _, err := ex.lookupAccount(participantID); err != nil {
		return L1{}, err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return L1{}, err
	}

	view := L1{Instrument: instrument, BestBid: book.BestBid(), BestAsk: book.BestAsk()}
	view.BestBidQty = book.BestBidQuantity()
	view.BestAskQty = book.BestAskQuantity()
	if price, qty, timestamp, ok := book.LastTrade(); ok {
		p := price
		view.LastPrice = &p
		view.LastQuantity = qty
		t := timestamp
		view.Timestamp = &t
	}
	return view, nil
}

// L2Level is one aggregated price/quantity pair in a depth view.
type L2Level struct {
	Price    float64
	Quantity int
}

// L2 is the aggregated depth view, gated at PermissionL2.
type L2 struct {
	Instrument string
	Bids       []L2Level
	Asks       []L2Level
}

// GetL2 returns an aggregated depth snapshot of up to depth levels per side.
// The full book is read and cached once per instrument, behind a short-lived
// cache invalidated on every trade, cancel, and modify; each call truncates
// its own copy to depth after the cache read, so callers requesting
// different depths within the same TTL window never see each other's
// truncation.
func (ex *Exchange) GetL2(participantID, instrument string, depth int) (L2, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return L2{}, err
	}
	if err := ex.requirePermission(acc, PermissionL2); err != nil {
		return L2{}, err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return L2{}, err
	}

	key := l2CacheKey(instrument)
	var full L2
	if cached, ok := ex.depthCache.Get(key); ok {
		full = cached.(L2)
	} else {
		bids, asks := book.Depth(0)
		full = L2{Instrument: instrument, Bids: toL2Levels(bids), Asks: toL2Levels(asks)}
		ex.depthCache.SetDefault(key, full)
	}

	view := L2{Instrument: instrument, Bids: truncateL2(full.Bids, depth), Asks: truncateL2(full.Asks, depth)}
	return view, nil
}

func truncateL2(levels []L2Level, depth int) []L2Level {
	if depth <= 0 || depth >= len(levels) {
		return levels
	}
	return levels[:depth]
}

func toL2Levels(levels []matching.DepthLevel) []L2Level {
	out := make([]L2Level, len(levels))
	for i, l := range levels {
		out[i] = L2Level{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

// L3PriceLevel is one price level's full per-order detail, FIFO order
// preserved.
type L3PriceLevel struct {
	Price  float64
	Orders []matching.OrderDetail
}

// L3 is the full order-by-order depth view, gated at PermissionL3.
type L3 struct {
	Instrument string
	Bids       []L3PriceLevel
	Asks       []L3PriceLevel
}

// GetL3 returns the full per-order book for instrument, best price first.
func (ex *Exchange) GetL3(participantID, instrument string) (L3, error) {
	acc, err := ex.lookupAccount(participantID)
	if err != nil {
		return L3{}, err
	}
	if err := ex.requirePermission(acc, PermissionL3); err != nil {
		return L3{}, err
	}
	book, err := ex.lookupBook(instrument)
	if err != nil {
		return L3{}, err
	}

	bidsByPrice, asksByPrice := book.L3()
	return L3{
		Instrument: instrument,
		Bids:       toL3Levels(bidsByPrice, true),
		Asks:       toL3Levels(asksByPrice, false),
	}, nil
}

func toL3Levels(byPrice map[float64][]matching.OrderDetail, descending bool) []L3PriceLevel {
	prices := make([]float64, 0, len(byPrice))
	for p := range byPrice {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		if descending {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	out := make([]L3PriceLevel, len(prices))
	for i, p := range prices {
		out[i] = L3PriceLevel{Price: p, Orders: byPrice[p]}
	}
	return out
}

// PriceStats returns the mean and standard deviation of the last window
// trade prices recorded for instrument, computed with gonum/stat. ok is
// false if fewer than two trades have been recorded.
func (ex *Exchange) PriceStats(instrument string, window int) (mean, stddev float64, ok bool) {
	all := ex.trades.Trades()
	var prices []float64
	for i := len(all) - 1; i >= 0 && (window <= 0 || len(prices) < window); i-- {
		if all[i].Instrument != instrument {
			continue
		}
		prices = append(prices, all[i].Price)
	}
	if len(prices) < 2 {
		return 0, 0, false
	}
	mean, stddev = stat.MeanStdDev(prices, nil)
	return mean, stddev, true
}

// FeeBalance returns fees accumulated across every trade on the exchange.
func (ex *Exchange) FeeBalance() float64 {
	return ex.feeBalance
}
