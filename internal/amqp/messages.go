package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"housefees/internal/core"
)

// EventType names what happened to the ledger.
type EventType string

const (
	EventPaymentRecorded EventType = "payment_recorded"
	EventLedgerReset     EventType = "ledger_reset"
	EventLedgerRestored  EventType = "ledger_restored"
)

func (t EventType) valid() bool {
	switch t {
	case EventPaymentRecorded, EventLedgerReset, EventLedgerRestored:
		return true
	}
	return false
}

// LedgerEvent is published after every ledger mutation. It carries enough to
// log or audit the change; consumers that need full state read the
// persisted snapshot.
type LedgerEvent struct {
	Type      EventType     `json:"type"`
	Identity  core.Identity `json:"identity,omitempty"`
	Amount    int64         `json:"amount,omitempty"`
	PaidTotal int64         `json:"paid_total,omitempty"`
	Units     int           `json:"units,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewPaymentEvent describes a recorded payment and the unit's new total.
func NewPaymentEvent(u core.Unit, amount int64) *LedgerEvent {
	return &LedgerEvent{
		Type:      EventPaymentRecorded,
		Identity:  u.Identity(),
		Amount:    amount,
		PaidTotal: u.PaidAmount,
		Timestamp: time.Now(),
	}
}

// NewResetEvent describes a billing cycle reset of units records.
func NewResetEvent(units int) *LedgerEvent {
	return &LedgerEvent{Type: EventLedgerReset, Units: units, Timestamp: time.Now()}
}

// NewRestoreEvent describes a whole-ledger restore.
func NewRestoreEvent(units int) *LedgerEvent {
	return &LedgerEvent{Type: EventLedgerRestored, Units: units, Timestamp: time.Now()}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event and rejects unknown event types.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var ev LedgerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if !ev.Type.valid() {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}
