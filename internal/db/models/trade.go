package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the matching engine's immutable execution record, §3. It is the
// payload carried by trade.events and ultimately consumed by both the Order
// and Account sagas.
type Trade struct {
	ID          string          `gorm:"primaryKey;type:varchar(36)"`
	Symbol      string          `gorm:"type:varchar(20);index"`
	BuyOrderID  string          `gorm:"type:varchar(36);index"`
	SellOrderID string          `gorm:"type:varchar(36);index"`
	BuyUserID   string          `gorm:"type:varchar(36)"`
	SellUserID  string          `gorm:"type:varchar(36)"`
	Price       decimal.Decimal `gorm:"type:decimal(18,2)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExecutedAt  time.Time
}

// TableName pins the gorm table name.
func (Trade) TableName() string { return "trades" }
