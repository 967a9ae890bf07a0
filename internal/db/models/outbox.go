package models

import (
	"time"
)

// OutboxStatus tracks delivery of an outbox row to the bus.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxProcessed OutboxStatus = "PROCESSED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxRecord is written in the same DB transaction as the aggregate
// mutation that produced it (§4.3), so the CDC bridge poller only ever sees
// an event once its aggregate change has durably committed. The poller
// scans in (AggregateID, ID) order, ID being the auto-increment key.
type OutboxRecord struct {
	ID            uint64       `gorm:"primaryKey;autoIncrement"`
	EventID       string       `gorm:"type:varchar(32);uniqueIndex"`
	AggregateID   string       `gorm:"type:varchar(36);index:idx_outbox_scan"`
	AggregateType string       `gorm:"type:varchar(32)"`
	EventType     string       `gorm:"type:varchar(32)"`
	Topic         string       `gorm:"type:varchar(64)"`
	Symbol        string       `gorm:"type:varchar(20)"`
	SagaID        string       `gorm:"type:varchar(36);index"`
	TradeID       string       `gorm:"type:varchar(36)"`
	Payload       []byte       `gorm:"type:jsonb"`
	Status        OutboxStatus `gorm:"type:varchar(16);index:idx_outbox_scan"`
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// TableName pins the gorm table name.
func (OutboxRecord) TableName() string { return "outbox_records" }
