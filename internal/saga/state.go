// Package saga implements the per-service saga state repository and the
// periodic timeout sweep shared by the order, matching, and account sagas.
// Saga tables are local to each service; services correlate only by SagaID
// carried in event payloads, never by sharing rows.
package saga

import "time"

// Stage identifies which service drives a SagaState row.
type Stage string

const (
	StageOrder    Stage = "ORDER"
	StageMatching Stage = "MATCHING"
	StageAccount  Stage = "ACCOUNT"
)

// State is the saga's current lifecycle state.
type State string

const (
	StateStarted     State = "STARTED"
	StateInProgress  State = "IN_PROGRESS"
	StateCompleted   State = "COMPLETED"
	StateCompensating State = "COMPENSATING"
	StateCompensated State = "COMPENSATED"
	StateFailed      State = "FAILED"
	StateTimeout     State = "TIMEOUT"
)

// IsTerminal reports whether s is one of the four terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCompensated, StateFailed, StateTimeout:
		return true
	default:
		return false
	}
}

// IsActive reports whether a saga in state s is still eligible for the
// timeout sweep (not yet terminal).
func (s State) IsActive() bool {
	return !s.IsTerminal()
}

// SagaState is the per-service saga record of §3.
type SagaState struct {
	SagaID    string `gorm:"primaryKey;type:varchar(36)"`
	Stage     Stage  `gorm:"type:varchar(16);index"`
	TradeID   string `gorm:"type:varchar(36);index"`
	OrderID   string `gorm:"type:varchar(36);index"`
	UserID    string `gorm:"type:varchar(36);index"`
	Symbol    string `gorm:"type:varchar(20);index"`
	State     State  `gorm:"type:varchar(16);index"`
	EventType string `gorm:"type:varchar(64)"`
	// Payload holds a snapshot of the committed event payload that started
	// this saga. None of the Start callers set it, so it is stored empty and
	// no compensation reads it.
	Payload   []byte    `gorm:"type:jsonb"`
	TimeoutAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the gorm table name regardless of struct name.
func (SagaState) TableName() string {
	return "saga_states"
}
