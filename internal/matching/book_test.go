package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/htf-exchange/matching-engine/internal/domain"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

// capturingListeners records every trade/discard/stop-trigger callback an
// OrderBook makes, so tests can assert on the exact sequence the match loop
// produced instead of re-deriving it from book state alone.
type capturingListeners struct {
	trades   []domain.Trade
	discards []*domain.Order
	stops    []StopTriggerEvent
}

func (c *capturingListeners) OnTrade(t domain.Trade)           { c.trades = append(c.trades, t) }
func (c *capturingListeners) OnDiscard(o *domain.Order)        { c.discards = append(c.discards, o) }
func (c *capturingListeners) OnStopTrigger(e StopTriggerEvent) { c.stops = append(c.stops, e) }

// OrderBookTestSuite exercises the order book in isolation, with a
// capturing listener standing in for the exchange coordinator.
type OrderBookTestSuite struct {
	suite.Suite
	book      *OrderBook
	listeners *capturingListeners
}

func (s *OrderBookTestSuite) SetupTest() {
	s.listeners = &capturingListeners{}
	logger := zap.NewNop()
	s.book = NewOrderBook("TEST", DefaultEngineConfig(), s.listeners, s.listeners, s.listeners, logger)
}

func (s *OrderBookTestSuite) submit(participant, side, kind string, qty int, price, stopPrice *float64) (string, error) {
	return s.book.Submit(SubmitRequest{
		ParticipantID: participant,
		Side:          side,
		Kind:          kind,
		Quantity:      qty,
		Price:         price,
		StopPrice:     stopPrice,
	})
}

func ptr(f float64) *float64 { return &f }

// TestFIFOAndPriceImprovement is scenario S1: four resting sells (101, 102,
// 102, 103), one buy 13@102 that crosses the first three; fills happen at
// each resting order's own price (price improvement goes to the resting
// side), in FIFO order, and the fully filled buy leaves nothing resting.
func (s *OrderBookTestSuite) TestFIFOAndPriceImprovement() {
	_, err := s.submit("A", "sell", "limit", 5, ptr(101), nil)
	s.Require().NoError(err)
	_, err = s.submit("B", "sell", "limit", 5, ptr(102), nil)
	s.Require().NoError(err)
	_, err = s.submit("C", "sell", "limit", 5, ptr(102), nil)
	s.Require().NoError(err)
	_, err = s.submit("Dask", "sell", "limit", 5, ptr(103), nil)
	s.Require().NoError(err)

	_, err = s.submit("E", "buy", "limit", 13, ptr(102), nil)
	s.Require().NoError(err)

	s.Require().Len(s.listeners.trades, 3)
	s.Equal(101.0, s.listeners.trades[0].Price)
	s.Equal(5, s.listeners.trades[0].Quantity)
	s.Equal(102.0, s.listeners.trades[1].Price)
	s.Equal(5, s.listeners.trades[1].Quantity)
	s.Equal(102.0, s.listeners.trades[2].Price)
	s.Equal(3, s.listeners.trades[2].Quantity, "B fills first per FIFO at 102, then C partially")

	bids, asks := s.book.Depth(10)
	s.Empty(bids, "the incoming buy fully traded and left nothing resting")
	s.Require().Len(asks, 2)
	s.Equal(DepthLevel{Price: 102, Quantity: 2}, asks[0])
	s.Equal(DepthLevel{Price: 103, Quantity: 5}, asks[1])

	price, qty, _, ok := s.book.LastTrade()
	s.True(ok)
	s.Equal(102.0, price)
	s.Equal(3, qty)
}

// TestFOKFailsAtomically is scenario S2: an FOK order that cannot be fully
// filled is rejected before touching the book, with no partial fills.
func (s *OrderBookTestSuite) TestFOKFailsAtomically() {
	_, err := s.submit("A", "sell", "limit", 30, ptr(100), nil)
	s.Require().NoError(err)

	_, err = s.submit("B", "buy", "fok", 50, ptr(101), nil)
	s.Require().Error(err)
	s.Equal(exerrors.FOKInsufficientLiquidity, exerrors.GetErrorCode(err))

	s.Empty(s.listeners.trades)
	s.Require().Len(s.listeners.discards, 1)
	s.Equal(50, s.listeners.discards[0].Quantity)

	asks := s.book.BestAsk()
	s.Require().NotNil(asks)
	s.Equal(100.0, *asks)
	s.Equal(30, s.book.BestAskQuantity())
}

// TestPostOnlyRejectedWhenCrossing is scenario S3.
func (s *OrderBookTestSuite) TestPostOnlyRejectedWhenCrossing() {
	_, err := s.submit("A", "sell", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	_, err = s.submit("B", "buy", "post-only", 5, ptr(105), nil)
	s.Require().Error(err)
	s.Equal(exerrors.PostOnlyViolation, exerrors.GetErrorCode(err))
	s.Equal(100.0, *s.book.BestAsk())

	_, err = s.submit("B", "buy", "post-only", 5, ptr(95), nil)
	s.Require().NoError(err)
	s.Require().NotNil(s.book.BestBid())
	s.Equal(95.0, *s.book.BestBid())
}

// TestSelfTradePreventionAborts is scenario S4.
func (s *OrderBookTestSuite) TestSelfTradePreventionAborts() {
	_, err := s.submit("U", "sell", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	_, err = s.submit("U", "buy", "limit", 10, ptr(100), nil)
	s.Require().Error(err)
	s.Equal(exerrors.SelfTradePrevention, exerrors.GetErrorCode(err))

	s.Empty(s.listeners.trades)
	s.Equal(10, s.book.BestAskQuantity())
}

// TestStopTriggersDuringMatch is scenario S5.
func (s *OrderBookTestSuite) TestStopTriggersDuringMatch() {
	_, err := s.submit("X", "buy", "stop-market", 10, nil, ptr(100))
	s.Require().NoError(err)

	_, err = s.submit("Y", "sell", "limit", 5, ptr(95), nil)
	s.Require().NoError(err)
	_, err = s.submit("Z", "buy", "limit", 5, ptr(95), nil)
	s.Require().NoError(err)

	price, _, _, ok := s.book.LastTrade()
	s.True(ok)
	s.Equal(95.0, price)
	s.Empty(s.listeners.stops, "buy-stop at 100 must not trigger on a last-price of 95")

	_, err = s.submit("V", "sell", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)
	_, err = s.submit("W", "buy", "limit", 3, ptr(100), nil)
	s.Require().NoError(err)

	price, _, _, ok = s.book.LastTrade()
	s.True(ok)
	s.Equal(100.0, price)
	s.Require().Len(s.listeners.stops, 1)
	s.Equal("X", s.listeners.stops[0].Order.ParticipantID)
	s.Equal(domain.Market, s.listeners.stops[0].Order.Kind)
	s.Equal(domain.StopMarket, s.listeners.stops[0].OriginalKind)

	var xFilled int
	for _, tr := range s.listeners.trades {
		if tr.BuyParticipantID == "X" {
			xFilled += tr.Quantity
		}
	}
	s.Equal(7, xFilled, "X's triggered market buy executes against V's remaining 7@100 resting ask")
}

// TestCancelWhileMatchingIsSkippedViaCompaction is scenario S6: a cancelled
// resting order in the middle of the FIFO queue is silently skipped when a
// crossing sell arrives, without disturbing FIFO order for the survivors.
func (s *OrderBookTestSuite) TestCancelWhileMatchingIsSkippedViaCompaction() {
	b1, err := s.submit("P1", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)
	b2, err := s.submit("P2", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)
	b3, err := s.submit("P3", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	s.True(s.book.Cancel(b2))

	_, err = s.submit("P4", "sell", "limit", 25, ptr(100), nil)
	s.Require().NoError(err)

	s.Require().Len(s.listeners.trades, 2)
	s.Equal(b1, s.listeners.trades[0].BuyOrderID)
	s.Equal(10, s.listeners.trades[0].Quantity)
	s.Equal(b3, s.listeners.trades[1].BuyOrderID)
	s.Equal(10, s.listeners.trades[1].Quantity)

	s.Nil(s.book.OrderByID(b1))
	s.Nil(s.book.OrderByID(b2))
	s.Nil(s.book.OrderByID(b3))

	asks := s.book.BestAsk()
	s.Require().NotNil(asks)
	s.Equal(100.0, *asks)
	s.Equal(5, s.book.BestAskQuantity(), "the incoming sell's unfilled 5 remainder rests as a new ask")
}

// TestIdempotentCancel covers invariant §8.8.
func (s *OrderBookTestSuite) TestIdempotentCancel() {
	id, err := s.submit("A", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	s.True(s.book.Cancel(id))
	s.True(s.book.Cancel(id))
	s.False(s.book.Cancel("no-such-order"))
}

// TestRoundTripCancelRestoresSnapshot covers invariant §8.7.
func (s *OrderBookTestSuite) TestRoundTripCancelRestoresSnapshot() {
	before := s.book.BestBid()
	s.Nil(before)

	id, err := s.submit("A", "buy", "limit", 10, ptr(50), nil)
	s.Require().NoError(err)
	s.book.Cancel(id)

	after := s.book.BestBid()
	s.Nil(after)
	bids, asks := s.book.Depth(10)
	s.Empty(bids)
	s.Empty(asks)
}

func (s *OrderBookTestSuite) TestInvalidOrderTypeValidation() {
	_, err := s.submit("A", "buy", "limit", 10, nil, nil)
	s.Require().Error(err)
	s.Equal(exerrors.InvalidOrderType, exerrors.GetErrorCode(err))

	_, err = s.submit("A", "buy", "market", 10, ptr(100), nil)
	s.Require().Error(err)
	s.Equal(exerrors.InvalidOrderType, exerrors.GetErrorCode(err))

	_, err = s.submit("A", "buy", "stop-limit", 10, nil, ptr(100))
	s.Require().Error(err)
	s.Equal(exerrors.InvalidOrderType, exerrors.GetErrorCode(err))
}

func (s *OrderBookTestSuite) TestInvalidOrderQuantityAndSide() {
	_, err := s.submit("A", "buy", "limit", 0, ptr(100), nil)
	s.Require().Error(err)
	s.Equal(exerrors.InvalidOrderQuantity, exerrors.GetErrorCode(err))

	_, err = s.submit("A", "sideways", "limit", 10, ptr(100), nil)
	s.Require().Error(err)
	s.Equal(exerrors.InvalidOrderSide, exerrors.GetErrorCode(err))
}

func (s *OrderBookTestSuite) TestModifyQuantityDecreaseKeepsID() {
	id, err := s.submit("A", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	newID, ok := s.book.Modify(id, 4, 100, nil)
	s.True(ok)
	s.Equal(id, newID, "a pure quantity decrease at the same price preserves the order's id and time priority")
	s.Equal(4, s.book.OrderByID(id).Quantity)
}

func (s *OrderBookTestSuite) TestModifyPriceChangeLosesPriorityAndID() {
	id, err := s.submit("A", "buy", "limit", 10, ptr(100), nil)
	s.Require().NoError(err)

	newID, ok := s.book.Modify(id, 10, 101, nil)
	s.True(ok)
	s.NotEqual(id, newID, "any price change cancels the original and resubmits with a fresh id")
	s.Nil(s.book.OrderByID(id))
	s.Require().NotNil(s.book.OrderByID(newID))
	s.Equal(101.0, s.book.OrderByID(newID).Price)
}

func (s *OrderBookTestSuite) TestInvalidStopPriceValidation() {
	_, err := s.submit("Y", "sell", "limit", 5, ptr(100), nil)
	s.Require().NoError(err)
	_, err = s.submit("Z", "buy", "limit", 5, ptr(100), nil)
	s.Require().NoError(err)

	_, err = s.submit("X", "buy", "stop-limit", 10, ptr(101), ptr(99))
	s.Require().Error(err)
	s.Equal(exerrors.InvalidStopPrice, exerrors.GetErrorCode(err))

	_, err = s.submit("X", "sell", "stop-limit", 10, ptr(99), ptr(101))
	s.Require().Error(err)
	s.Equal(exerrors.InvalidStopPrice, exerrors.GetErrorCode(err))
}

func TestOrderBookTestSuite(t *testing.T) {
	suite.Run(t, new(OrderBookTestSuite))
}

func TestBestBidLessThanBestAskNeverCrosses(t *testing.T) {
	listeners := &capturingListeners{}
	book := NewOrderBook("TEST", DefaultEngineConfig(), listeners, listeners, listeners, zap.NewNop())

	submit := func(participant, side string, qty int, price float64) {
		_, err := book.Submit(SubmitRequest{ParticipantID: participant, Side: side, Kind: "limit", Quantity: qty, Price: &price})
		assert.NoError(t, err)
	}

	submit("A", "buy", 5, 99)
	submit("B", "sell", 5, 101)

	bid, ask := book.BestBid(), book.BestAsk()
	assert.NotNil(t, bid)
	assert.NotNil(t, ask)
	assert.Less(t, *bid, *ask)
}
