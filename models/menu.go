package models

import "time"

// Menu is the minimal catalog row this engine consumes. The catalog itself
// (categories, pricing rules, stock) is owned by an external system; orders
// only read Name and Price here to snapshot them at creation time.
type Menu struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     float64   `gorm:"type:decimal(12,2);not null" json:"price"`
	// No column default here: gorm skips zero-valued fields when a default
	// is declared, which would silently turn Available=false into true.
	Available bool      `gorm:"not null" json:"available"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
