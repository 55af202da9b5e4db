// Package domain holds the shared data model for the exchange: orders,
// trades, and the enums that tag them. It carries no behaviour beyond small
// helpers on its own fields — matching, accounting, and routing logic live
// in the packages that consume it.
package domain

import "time"

// Side is the side of an order or a trade fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind tags the order-type specific matching and resting behaviour.
type Kind string

const (
	Limit      Kind = "limit"
	Market     Kind = "market"
	IOC        Kind = "ioc"
	FOK        Kind = "fok"
	PostOnly   Kind = "post-only"
	StopLimit  Kind = "stop-limit"
	StopMarket Kind = "stop-market"
)

// IsStop reports whether the kind is held off-book in the stop store until
// triggered.
func (k Kind) IsStop() bool {
	return k == StopLimit || k == StopMarket
}

// Underlying returns the kind a triggered stop order is synthesised as.
func (k Kind) Underlying() Kind {
	switch k {
	case StopLimit:
		return Limit
	case StopMarket:
		return Market
	default:
		return k
	}
}

// Order is a participant's resting or in-flight instruction. Identity
// (ID, ParticipantID, Instrument, Side, creation fields) is immutable once
// constructed. Quantity only ever decreases until the order is removed, and
// Kind changes once, when a triggered stop order is rewritten to its
// underlying kind.
type Order struct {
	ID            string
	ParticipantID string
	Instrument    string
	Side          Side
	Kind          Kind
	Quantity      int // remaining, unfilled quantity
	Price         float64
	StopPrice     float64
	CreatedAt     time.Time
	Seq           uint64 // per-instrument monotonic submission sequence, used as the tie-break timestamp in the best-price index
}

// IsBuy reports whether the order is on the buy side.
func (o *Order) IsBuy() bool { return o.Side == Buy }

// IsSell reports whether the order is on the sell side.
func (o *Order) IsSell() bool { return o.Side == Sell }

// HasLimitPrice reports whether this order's kind carries a resting limit
// price (every kind except market and the stop kinds; a stop-limit holds a
// limit price too, but only uses it once triggered into a limit order).
func (o *Order) HasLimitPrice() bool {
	switch o.Kind {
	case Limit, IOC, FOK, PostOnly:
		return true
	default:
		return false
	}
}

// Trade is an immutable record of one fill between two orders.
type Trade struct {
	Timestamp         time.Time
	Instrument        string
	Price             float64
	Quantity          int
	BuyParticipantID  string
	SellParticipantID string
	BuyOrderID        string
	SellOrderID       string
	Aggressor         Side
}
