// Package journal keeps an append-only record of the actions served by
// lendingd and the events they emitted.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nhblend/core/events"
	"nhblend/native/lending/errcodes"
	"nhblend/observability"
)

// Open connects to the journal database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Entry describes the action being recorded.
type Entry struct {
	RequestID string
	Name      string
	Actor     string
	Detail    string
}

// Journal buffers the events emitted by the market and persists them with
// the action that produced them. It implements events.Emitter. Callers
// serialize actions so the buffer only ever holds one action's events.
type Journal struct {
	db  *gorm.DB
	now func() time.Time

	mu      sync.Mutex
	pending []events.Event
}

func New(db *gorm.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	j.mu.Lock()
	j.pending = append(j.pending, evt)
	j.mu.Unlock()
}

func (j *Journal) drain() []events.Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.pending
	j.pending = nil
	return out
}

// Record persists entry together with the events emitted since the last
// call. A non-nil cause marks the action rejected; any buffered events are
// dropped in that case.
func (j *Journal) Record(ctx context.Context, entry Entry, cause error) (*Action, error) {
	emitted := j.drain()
	now := j.now().UTC()
	action := Action{
		ID:        uuid.New(),
		RequestID: entry.RequestID,
		Name:      entry.Name,
		Actor:     entry.Actor,
		Outcome:   OutcomeCommitted,
		Detail:    entry.Detail,
		CreatedAt: now,
	}
	if cause != nil {
		action.Outcome = OutcomeRejected
		var coded *errcodes.Error
		if errors.As(cause, &coded) {
			action.ErrorCode = coded.Code
			action.ErrorName = coded.Name
		} else {
			action.ErrorName = truncate(cause.Error(), 96)
		}
		emitted = nil
	}
	for i, evt := range emitted {
		rendered := events.Render(evt)
		attrs, err := json.Marshal(rendered.Attributes)
		if err != nil {
			return nil, fmt.Errorf("journal: encode %s: %w", rendered.Type, err)
		}
		action.Events = append(action.Events, Event{
			ID:         uuid.New(),
			ActionID:   action.ID,
			Sequence:   i,
			Type:       rendered.Type,
			Attributes: string(attrs),
			CreatedAt:  now,
		})
	}
	if err := j.db.WithContext(ctx).Create(&action).Error; err != nil {
		return nil, fmt.Errorf("journal: record %s: %w", entry.Name, err)
	}
	return &action, nil
}

// RecordSnapshot notes a snapshot written to the state store.
func (j *Journal) RecordSnapshot(ctx context.Context, sequence uint64, reason string) error {
	row := Snapshot{ID: uuid.New(), Sequence: sequence, Reason: reason, CreatedAt: j.now().UTC()}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal: record snapshot: %w", err)
	}
	return nil
}

// Query filters the journal listing.
type Query struct {
	Actor string
	Name  string
	Limit int
}

// Actions returns the most recent actions first, with their events.
func (j *Journal) Actions(ctx context.Context, q Query) ([]Action, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := j.db.WithContext(ctx).Model(&Action{}).Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence ASC")
	})
	if q.Actor != "" {
		tx = tx.Where("actor = ?", q.Actor)
	}
	if q.Name != "" {
		tx = tx.Where("name = ?", q.Name)
	}
	var out []Action
	if err := tx.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list actions: %w", err)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
