package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/tablesync/models"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

// GetActive returns the active session for a table, or
// gorm.ErrRecordNotFound when the table has none.
func (r *SessionRepository) GetActive(tableID uint) (*models.Session, error) {
	var session models.Session
	err := r.DB.Where("table_id = ? AND status = ?", tableID, models.SessionActive).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateIfAbsent creates an active session for the table as a single
// conditional insert. The unique index on active_key closes the race window:
// when two callers insert concurrently exactly one row lands, the loser's
// insert affects zero rows and the winner is fetched instead. The boolean
// reports whether this call created the session.
func (r *SessionRepository) CreateIfAbsent(tableID uint) (*models.Session, bool, error) {
	key := tableID
	session := models.Session{
		SessionID: uuid.NewString(),
		TableID:   tableID,
		Status:    models.SessionActive,
		ActiveKey: &key,
		StartedAt: time.Now(),
	}

	res := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "active_key"}},
		DoNothing: true,
	}).Create(&session)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := r.GetActive(tableID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &session, true, nil
}

// CloseActive marks the table's active session completed and releases its
// active key. Returns the number of affected rows; zero means there was no
// active session to close.
func (r *SessionRepository) CloseActive(tableID uint) (int64, error) {
	now := time.Now()
	res := r.DB.Model(&models.Session{}).
		Where("table_id = ? AND status = ?", tableID, models.SessionActive).
		Updates(map[string]interface{}{
			"status":     models.SessionCompleted,
			"active_key": nil,
			"ended_at":   now,
		})
	return res.RowsAffected, res.Error
}

// UpdateCache refreshes the session's non-authoritative order count and
// total. Best effort; readers never trust these fields.
func (r *SessionRepository) UpdateCache(sessionID string, count int, total float64) error {
	return r.DB.Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"cached_order_count": count,
			"cached_total":       total,
		}).Error
}
