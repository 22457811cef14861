package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Flow is the snapshot row. Version is NULL until the first commit; the hot
// path in store.go relies on that to guard the version-1 update.
type Flow struct {
	ID        string          `gorm:"primaryKey;size:191"`
	Slug      string          `gorm:"size:191;index"`
	Version   *uint64
	Data      json.RawMessage `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Operation is one append-only log entry. The composite unique index is the
// last line of defense for the optimistic-concurrency invariant.
type Operation struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	FlowID    string          `gorm:"size:191;uniqueIndex:uniq_flow_version"`
	Version   uint64          `gorm:"uniqueIndex:uniq_flow_version"`
	Data      json.RawMessage `gorm:"type:json"`
	ActorID   string          `gorm:"size:191"`
	CreatedAt time.Time
}

// AutoMigrate creates or updates the flows and operations tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Flow{}, &Operation{})
}
