package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/htf-exchange/matching-engine/internal/domain"
)

// ActionType tags the kind of event recorded in a participant's action log
// (§4.8).
type ActionType string

const (
	ActionRegister      ActionType = "register"
	ActionCashIn        ActionType = "cash_in"
	ActionCashOut       ActionType = "cash_out"
	ActionPlaceOrder    ActionType = "place_order"
	ActionCancelOrder   ActionType = "cancel_order"
	ActionModifyOrder   ActionType = "modify_order"
	ActionStopTriggered ActionType = "stop_triggered"
)

// ActionEvent is one typed, append-only action-log entry. Payload carries
// the event-specific fields the spec leaves unconstrained in shape; ID is
// k-sortable so a log can be merged/ordered across participants purely by
// id, the way the rest of the pack uses ksuid for causally-ordered events.
type ActionEvent struct {
	ID            string
	Timestamp     time.Time
	ParticipantID string
	DisplayName   string
	Action        ActionType
	Payload       map[string]interface{}
}

func (e ActionEvent) String() string {
	return fmt.Sprintf("[%s] %s %s by %s (%s): %v", e.Timestamp.Format(time.RFC3339Nano), e.ID, e.Action, e.DisplayName, e.ParticipantID, e.Payload)
}

// ActionLog is the append-only sequence of events for one participant.
// Writes are synchronous with the causing mutation (§4.8).
type ActionLog struct {
	participantID string
	displayName   string
	events        []ActionEvent
}

func newActionLog(participantID, displayName string) *ActionLog {
	return &ActionLog{participantID: participantID, displayName: displayName}
}

func (l *ActionLog) record(action ActionType, payload map[string]interface{}) ActionEvent {
	e := ActionEvent{
		ID:            ksuid.New().String(),
		Timestamp:     time.Now(),
		ParticipantID: l.participantID,
		DisplayName:   l.displayName,
		Action:        action,
		Payload:       payload,
	}
	l.events = append(l.events, e)
	return e
}

func (l *ActionLog) RecordRegister(permissionLevel int, cashBalance float64) {
	l.record(ActionRegister, map[string]interface{}{
		"permission_level": permissionLevel,
		"cash_balance":     cashBalance,
	})
}

func (l *ActionLog) RecordCashIn(amount, newBalance float64) {
	l.record(ActionCashIn, map[string]interface{}{
		"amount":      amount,
		"new_balance": newBalance,
	})
}

func (l *ActionLog) RecordCashOut(amount, newBalance float64) {
	l.record(ActionCashOut, map[string]interface{}{
		"amount":      amount,
		"new_balance": newBalance,
	})
}

func (l *ActionLog) RecordPlaceOrder(instrument string, kind domain.Kind, side domain.Side, qty int, price *float64) {
	l.record(ActionPlaceOrder, map[string]interface{}{
		"instrument": instrument,
		"order_type": kind,
		"side":       side,
		"quantity":   qty,
		"price":      price,
	})
}

func (l *ActionLog) RecordCancelOrder(orderID, instrument string) {
	l.record(ActionCancelOrder, map[string]interface{}{
		"order_id":   orderID,
		"instrument": instrument,
	})
}

func (l *ActionLog) RecordModifyOrder(orderID, instrument string, newQty int, cashBalance float64) {
	l.record(ActionModifyOrder, map[string]interface{}{
		"order_id":     orderID,
		"instrument":   instrument,
		"new_quantity": newQty,
		"cash_balance": cashBalance,
	})
}

func (l *ActionLog) RecordStopTriggered(instrument string, orderType, underlyingKind domain.Kind, side domain.Side, qty int, stopPrice float64, price *float64) {
	l.record(ActionStopTriggered, map[string]interface{}{
		"instrument":      instrument,
		"order_type":      orderType,
		"underlying_kind": underlyingKind,
		"side":            side,
		"quantity":        qty,
		"stop_price":      stopPrice,
		"price":           price,
	})
}

// Events returns a defensive copy of the recorded events.
func (l *ActionLog) Events() []ActionEvent {
	out := make([]ActionEvent, len(l.events))
	copy(out, l.events)
	return out
}

// String renders the log for debugging/audit output.
func (l *ActionLog) String() string {
	var b strings.Builder
	for _, e := range l.events {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
