package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionLog is an append-only audit row written for each leg of a
// confirmed trade, keyed by (TradeID, Side): the unique index rejects a
// second row for the same leg, so a replayed trade event cannot
// double-post (P6).
type TransactionLog struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	TradeID       string          `gorm:"type:varchar(36);index:idx_tx_trade_side,unique"`
	Side          OrderSide       `gorm:"type:varchar(8);index:idx_tx_trade_side,unique"`
	UserID        string          `gorm:"type:varchar(36);index"`
	Symbol        string          `gorm:"type:varchar(20)"`
	CashBefore    decimal.Decimal `gorm:"type:decimal(24,4)"`
	CashAfter     decimal.Decimal `gorm:"type:decimal(24,4)"`
	QuantityDelta decimal.Decimal `gorm:"type:decimal(24,8)"`
	CreatedAt     time.Time
}

// TableName pins the gorm table name.
func (TransactionLog) TableName() string { return "transaction_logs" }
