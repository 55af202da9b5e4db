// Package account implements the Participant Account (§3, §4.6): cash,
// realised P&L, per-instrument position and average cost, outstanding
// buy/sell quantities, position-limit quota checks, and the per-participant
// action log (§4.8).
package account

import (
	"go.uber.org/zap"

	"github.com/htf-exchange/matching-engine/internal/domain"
	exerrors "github.com/htf-exchange/matching-engine/pkg/errors"
)

// DefaultPositionLimit is the symmetric per-instrument quota L used when a
// caller does not configure one. The original source hardcoded this; this
// port makes it configurable per §4.6's "(configurable, default 100)".
const DefaultPositionLimit = 100

// Position is one instrument's signed quantity and average cost.
type Position struct {
	Quantity    int
	AverageCost float64
}

// Account is one participant's ledger and order-flow bookkeeping.
type Account struct {
	ID              string
	DisplayName     string
	PositionLimit   int
	CashBalance     float64
	RealisedPnL     float64
	PermissionLevel int

	registered bool

	positions        map[string]*Position
	outstandingBuys  map[string]int
	outstandingSells map[string]int

	Log *ActionLog

	logger *zap.Logger
}

// New constructs a participant account with the given starting cash and
// position-limit quota. It is not yet registered with any exchange.
func New(id, displayName string, initialCash float64, positionLimit int, logger *zap.Logger) *Account {
	if positionLimit <= 0 {
		positionLimit = DefaultPositionLimit
	}
	return &Account{
		ID:               id,
		DisplayName:      displayName,
		PositionLimit:    positionLimit,
		CashBalance:      initialCash,
		positions:        make(map[string]*Position),
		outstandingBuys:  make(map[string]int),
		outstandingSells: make(map[string]int),
		Log:              newActionLog(id, displayName),
		logger:           logger,
	}
}

// Register marks the account as registered at the given permission level.
// A second call is rejected with DuplicateUser — the account-local half of
// the "registered with the exchange exactly once" lifecycle invariant in
// §3; the exchange coordinator enforces the other half across its
// participant map.
func (a *Account) Register(permissionLevel int) error {
	if a.registered {
		return exerrors.Newf(exerrors.DuplicateUser, "participant %s is already registered", a.ID)
	}
	a.registered = true
	a.PermissionLevel = permissionLevel
	a.Log.RecordRegister(permissionLevel, a.CashBalance)
	return nil
}

// CashIn credits the account and logs the deposit.
func (a *Account) CashIn(amount float64) {
	a.CashBalance += amount
	a.Log.RecordCashIn(amount, a.CashBalance)
}

// CashOut debits the account, failing with InsufficientBalance if the
// withdrawal would overdraw it.
func (a *Account) CashOut(amount float64) error {
	if amount > a.CashBalance {
		return exerrors.Newf(exerrors.InsufficientBalance, "withdrawal of %.2f exceeds cash balance %.2f", amount, a.CashBalance).
			WithDetail("requested", amount).
			WithDetail("available", a.CashBalance)
	}
	a.CashBalance -= amount
	a.Log.RecordCashOut(amount, a.CashBalance)
	return nil
}

// RemainingQuota returns how much more this account may buy or sell of
// instrument without breaching its position-limit quota (§4.6). Both
// values are clamped at 0.
func (a *Account) RemainingQuota(instrument string) (buyQuota, sellQuota int) {
	current := 0
	if p, ok := a.positions[instrument]; ok {
		current = p.Quantity
	}
	buyQuota = a.PositionLimit - current - a.outstandingBuys[instrument]
	sellQuota = a.PositionLimit + current - a.outstandingSells[instrument]
	if buyQuota < 0 {
		buyQuota = 0
	}
	if sellQuota < 0 {
		sellQuota = 0
	}
	return buyQuota, sellQuota
}

// CanPlaceOrder checks qty against the relevant side's remaining quota.
func (a *Account) CanPlaceOrder(instrument string, side domain.Side, qty int) bool {
	buyQuota, sellQuota := a.RemainingQuota(instrument)
	if side == domain.Buy {
		return qty <= buyQuota
	}
	return qty <= sellQuota
}

// IncreaseOutstandingBuys/Sells commit quantity against the quota when an
// order is admitted onto the book or into the stop store.
func (a *Account) IncreaseOutstandingBuys(instrument string, qty int) {
	a.outstandingBuys[instrument] += qty
}

func (a *Account) IncreaseOutstandingSells(instrument string, qty int) {
	a.outstandingSells[instrument] += qty
}

// ReduceOutstandingBuys/Sells release committed quota, e.g. on fill,
// cancel, or discard. The instrument key is dropped once its outstanding
// quantity returns to exactly zero, mirroring the original source.
func (a *Account) ReduceOutstandingBuys(instrument string, qty int) {
	a.outstandingBuys[instrument] -= qty
	if a.outstandingBuys[instrument] == 0 {
		delete(a.outstandingBuys, instrument)
	}
}

func (a *Account) ReduceOutstandingSells(instrument string, qty int) {
	a.outstandingSells[instrument] -= qty
	if a.outstandingSells[instrument] == 0 {
		delete(a.outstandingSells, instrument)
	}
}

func (a *Account) OutstandingBuys(instrument string) int  { return a.outstandingBuys[instrument] }
func (a *Account) OutstandingSells(instrument string) int { return a.outstandingSells[instrument] }

// Position returns the account's current position in instrument, or the
// zero value if it holds none.
func (a *Account) Position(instrument string) Position {
	if p, ok := a.positions[instrument]; ok {
		return *p
	}
	return Position{}
}

// Positions returns a defensive copy of every non-zero position.
func (a *Account) Positions() map[string]Position {
	out := make(map[string]Position, len(a.positions))
	for inst, p := range a.positions {
		out[inst] = *p
	}
	return out
}

// Exposure returns |quantity| * average-cost for instrument: the notional
// value of the account's current position at its own cost basis. The §6
// get-exposure surface marks at the instrument's last trade price instead
// (see exchange.Exchange.GetExposure) — this cost-basis figure is account-
// local bookkeeping, not that read view.
func (a *Account) Exposure(instrument string) float64 {
	p := a.Position(instrument)
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return float64(qty) * p.AverageCost
}

// TotalExposure sums Exposure across every instrument the account holds.
func (a *Account) TotalExposure() float64 {
	total := 0.0
	for inst := range a.positions {
		total += a.Exposure(inst)
	}
	return total
}

// UnrealisedPnL returns mark-to-market P&L on instrument given its current
// market price: (market-price - average-cost) * position.
func (a *Account) UnrealisedPnL(instrument string, marketPrice float64) float64 {
	p := a.Position(instrument)
	return (marketPrice - p.AverageCost) * float64(p.Quantity)
}

// ApplyFill updates position, average cost, realised P&L, and cash for a
// fill of trade against this account, following the rules in §4.6. fee is
// independently debited from cash regardless of side. The caller (the
// exchange coordinator) must first establish that this account is one side
// of the trade.
func (a *Account) ApplyFill(trade domain.Trade, instrument string, fee float64) {
	qty := trade.Quantity
	price := trade.Price

	old := a.Position(instrument)
	oldQty, oldAvg := old.Quantity, old.AverageCost

	var newQty int
	var newAvg float64

	switch {
	case trade.BuyParticipantID == a.ID:
		a.ReduceOutstandingBuys(instrument, qty)

		if oldQty >= 0 {
			newQty = oldQty + qty
			if oldQty != 0 {
				newAvg = (float64(oldQty)*oldAvg + float64(qty)*price) / float64(newQty)
			} else {
				newAvg = price
			}
		} else {
			covering := qty
			if -oldQty < covering {
				covering = -oldQty
			}
			a.RealisedPnL += float64(covering) * (oldAvg - price)
			newQty = oldQty + qty
			if newQty < 0 {
				newAvg = oldAvg
			} else {
				newAvg = price
			}
		}

		a.CashBalance -= float64(qty) * price
		a.CashBalance -= fee

	case trade.SellParticipantID == a.ID:
		a.ReduceOutstandingSells(instrument, qty)

		if oldQty <= 0 {
			newQty = oldQty - qty
			if oldQty != 0 {
				newAvg = (float64(-oldQty)*oldAvg + float64(qty)*price) / float64(-newQty)
			} else {
				newAvg = price
			}
		} else {
			covering := qty
			if oldQty < covering {
				covering = oldQty
			}
			a.RealisedPnL += float64(covering) * (price - oldAvg)
			newQty = oldQty - qty
			if newQty > 0 {
				newAvg = oldAvg
			} else {
				newAvg = price
			}
		}

		a.CashBalance += float64(qty) * price
		a.CashBalance -= fee

	default:
		if a.logger != nil {
			a.logger.Warn("ApplyFill called for a trade that does not involve this account")
		}
		return
	}

	if newQty == 0 {
		delete(a.positions, instrument)
		return
	}
	a.positions[instrument] = &Position{Quantity: newQty, AverageCost: newAvg}
}
