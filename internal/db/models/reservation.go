package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus tracks a reservation through its two-phase lifecycle.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// ReservationInfo records a cash or share hold against an order, identified
// by OrderID so a reserve request is naturally idempotent (P6): the Account
// Service never debits the same order twice (§4.2).
type ReservationInfo struct {
	OrderID        string            `gorm:"primaryKey;type:varchar(36)"`
	UserID         string            `gorm:"type:varchar(36);index"`
	Symbol         string            `gorm:"type:varchar(20)"`
	Side           OrderSide         `gorm:"type:varchar(8)"`
	Quantity       decimal.Decimal   `gorm:"type:decimal(24,8)"`
	Price          *decimal.Decimal  `gorm:"type:decimal(18,2)"`
	ReservedAmount decimal.Decimal   `gorm:"type:decimal(24,4)"`
	Status         ReservationStatus `gorm:"type:varchar(16);index"`
	TraceID        string            `gorm:"type:varchar(64)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName pins the gorm table name.
func (ReservationInfo) TableName() string { return "reservation_infos" }

// IsTerminal reports whether the reservation can no longer transition.
func (r ReservationInfo) IsTerminal() bool {
	switch r.Status {
	case ReservationConfirmed, ReservationReleased, ReservationExpired:
		return true
	default:
		return false
	}
}
