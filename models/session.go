package models

import "time"

// Session status values
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Session represents one continuous dining visit at one table. At most one
// active session may exist per table; ActiveKey mirrors TableID while the
// session is active and is cleared on close, so the unique index turns
// session creation into a single conditional insert instead of a
// read-then-write sequence.
type Session struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	SessionID string  `gorm:"type:varchar(64);not null;uniqueIndex" json:"session_id"`
	TableID   uint    `gorm:"not null;index" json:"table_id"`
	Table     Table   `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Status    string  `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	ActiveKey *uint   `gorm:"uniqueIndex" json:"-"`

	// Recovered marks a session view synthesized for a table whose session
	// record was lost while unsettled orders survived. Recovered sessions are
	// ephemeral and never persisted.
	Recovered bool `gorm:"-" json:"recovered"`

	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Cache only. Authoritative order lists and totals are always recomputed
	// from the orders table; no correctness-sensitive read trusts these.
	CachedTotal      float64 `gorm:"type:decimal(12,2);not null;default:0" json:"cached_total"`
	CachedOrderCount int     `gorm:"not null;default:0" json:"cached_order_count"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
