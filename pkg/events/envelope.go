// Package events defines the wire schema shared by every bus topic:
// order.events, trade.events, account.events, and saga.timeout.events.
// Every payload embeds Envelope so consumers can dedup by EventID regardless
// of which concrete event type it wraps.
package events

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Topic names, symbol-keyed except SagaTimeout which is keyed by orderId.
const (
	TopicOrderEvents   = "order.events"
	TopicTradeEvents   = "trade.events"
	TopicAccountEvents = "account.events"
	TopicSagaTimeouts  = "saga.timeout.events"
)

// Type is the discriminator carried in Envelope.EventType and in the bus
// message metadata, mirroring the teacher's eventbus metadata fields.
type Type string

const (
	TypeOrderCreated        Type = "OrderCreated"
	TypeOrderCancelled      Type = "OrderCancelled"
	TypeTradeExecuted       Type = "TradeExecuted"
	TypeTradeFailed         Type = "TradeFailed"
	TypeTradeRollback       Type = "TradeRollback"
	TypeAccountUpdated      Type = "AccountUpdated"
	TypeAccountUpdateFailed Type = "AccountUpdateFailed"
	TypeAccountRollback     Type = "AccountRollback"
	TypeSagaTimeout         Type = "SagaTimeout"
)

// Envelope is embedded by every concrete event payload.
type Envelope struct {
	EventID     string    `json:"eventId"`
	AggregateID string    `json:"aggregateId"`
	OccurredAt  time.Time `json:"occurredAt"`
	TraceID     string    `json:"traceId"`
	EventType   Type      `json:"eventType"`
	SagaID      string    `json:"sagaId,omitempty"`
}

// NewEnvelope stamps a time-ordered event id via ksuid so natural sort order
// on EventID matches creation order. The outbox poller orders PENDING rows
// by (aggregate_id, id), where id is the row's auto-increment key, not
// EventID.
func NewEnvelope(aggregateID, traceID, sagaID string, eventType Type, occurredAt time.Time) Envelope {
	return Envelope{
		EventID:     ksuid.New().String(),
		AggregateID: aggregateID,
		OccurredAt:  occurredAt,
		TraceID:     traceID,
		EventType:   eventType,
		SagaID:      sagaID,
	}
}
