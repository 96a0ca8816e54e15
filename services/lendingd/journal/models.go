package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcomes of a journaled action.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// Action is one request that reached the market, committed or not.
type Action struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RequestID string    `gorm:"size:64;index"`
	Name      string    `gorm:"size:64;index"`
	Actor     string    `gorm:"size:64;index"`
	Outcome   string    `gorm:"size:16;index"`
	ErrorCode uint16
	ErrorName string `gorm:"size:96"`
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
	Events    []Event `gorm:"foreignKey:ActionID"`
}

// Event is a committed market event attached to the action that caused it.
type Event struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ActionID   uuid.UUID `gorm:"type:uuid;index"`
	Sequence   int
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// Snapshot records a market snapshot written to the state store.
type Snapshot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence  uint64    `gorm:"index"`
	Reason    string    `gorm:"size:32"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Action{},
		&Event{},
		&Snapshot{},
	)
}
