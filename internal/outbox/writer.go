// Package outbox implements the transactional outbox pattern of §4.3: a
// Write call inside the same DB transaction as an aggregate mutation, and a
// Bridge poller that ships PENDING rows to the bus in (aggregate_id, id)
// order and marks them PROCESSED, standing in for a CDC log reader.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/db/models"
	"github.com/abdoElHodaky/tradcore/pkg/events"
)

// Record describes one event to be durably queued for publication.
type Record struct {
	EventID       string
	AggregateID   string
	AggregateType string
	EventType     events.Type
	Topic         string
	Symbol        string
	SagaID        string
	TradeID       string
	Payload       interface{}
}

// Write inserts rec as an OutboxRecord using tx, so it commits atomically
// with whatever aggregate row tx is already mutating (§4.3 step 1-2).
func Write(ctx context.Context, tx *gorm.DB, rec Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}

	row := models.OutboxRecord{
		EventID:       rec.EventID,
		AggregateID:   rec.AggregateID,
		AggregateType: rec.AggregateType,
		EventType:     string(rec.EventType),
		Topic:         rec.Topic,
		Symbol:        rec.Symbol,
		SagaID:        rec.SagaID,
		TradeID:       rec.TradeID,
		Payload:       payload,
		Status:        models.OutboxPending,
		CreatedAt:     time.Now(),
	}
	return tx.WithContext(ctx).Create(&row).Error
}
