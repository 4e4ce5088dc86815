package paymaster

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one auditable fact emitted by the engine.
type EventKind string

const (
	EventDeposited           EventKind = "deposited"
	EventWithdrawalRequested EventKind = "withdrawal_requested"
	EventWithdrawalExecuted  EventKind = "withdrawal_executed"
	EventWithdrawalCancelled EventKind = "withdrawal_cancelled"
	EventSignerAdded         EventKind = "signer_added"
	EventSignerRemoved       EventKind = "signer_removed"
	EventFeeCollectorChanged EventKind = "fee_collector_changed"
	EventGasBalanceDeducted  EventKind = "gas_balance_deducted"
	EventTokensPaid          EventKind = "tokens_paid"
)

// Event is one audit record. Fields carry the event-specific values
// (addresses and amounts are stringified for stable serialization).
type Event struct {
	ID     uuid.UUID              `json:"id"`
	Kind   EventKind              `json:"kind"`
	At     time.Time              `json:"at"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Recorder receives audit events. Record must not block the hot path;
// implementations that ship events elsewhere should buffer internally.
type Recorder interface {
	Record(ev Event)
}

// NewEvent builds an event with a fresh id and the current wall-clock time.
func NewEvent(kind EventKind, fields map[string]interface{}) Event {
	return Event{
		ID:     uuid.New(),
		Kind:   kind,
		At:     time.Now().UTC(),
		Fields: fields,
	}
}

// SlogRecorder logs every event through a structured logger. It is the
// default recorder when nothing else is wired.
type SlogRecorder struct {
	Logger *slog.Logger
}

func (r SlogRecorder) Record(ev Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("event_id", ev.ID.String()),
		slog.Time("at", ev.At),
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.Info(string(ev.Kind), attrs...)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(Event) {}
