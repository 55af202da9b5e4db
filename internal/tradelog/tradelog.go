// Package tradelog implements the Trade Log (§4.7): an append-only
// sequence of immutable trade records, exposed through a defensive-copy
// read and a rendered-string read.
package tradelog

import (
	"fmt"
	"strings"

	"github.com/htf-exchange/matching-engine/internal/domain"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

// TradeLog records every fill across every instrument in submission order.
type TradeLog struct {
	trades []domain.Trade
}

// New constructs an empty trade log.
func New() *TradeLog {
	return &TradeLog{}
}

// Record validates the trade's aggressor and appends it. Returns
// InvalidAggressor if aggressor is neither buy nor sell.
func (l *TradeLog) Record(trade domain.Trade) error {
	if trade.Aggressor != domain.Buy && trade.Aggressor != domain.Sell {
		return exerrors.Newf(exerrors.InvalidAggressor, "aggressor %q is neither buy nor sell", trade.Aggressor)
	}
	l.trades = append(l.trades, trade)
	return nil
}

// Trades returns a defensive copy of every recorded trade, in submission
// order.
func (l *TradeLog) Trades() []domain.Trade {
	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// String renders the trade log for audit/debug output.
func (l *TradeLog) String() string {
	var b strings.Builder
	for _, t := range l.trades {
		fmt.Fprintf(&b, "[%s] %s %d@%.4f buy=%s sell=%s aggressor=%s\n",
			t.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), t.Instrument, t.Quantity, t.Price,
			t.BuyParticipantID, t.SellParticipantID, t.Aggressor)
	}
	return b.String()
}
