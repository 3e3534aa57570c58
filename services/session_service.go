package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/repository"
	"github.com/yeremiapane/tablesync/utils"
)

// SessionService is the session lifecycle manager. It guarantees at most one
// active session per table and owns the table-snapshot reconstruction policy.
type SessionService struct {
	DB       *gorm.DB
	Sessions *repository.SessionRepository
	Orders   *repository.OrderRepository
	Hub      *realtime.Hub
}

func NewSessionService(db *gorm.DB, hub *realtime.Hub) *SessionService {
	return &SessionService{
		DB:       db,
		Sessions: repository.NewSessionRepository(db),
		Orders:   repository.NewOrderRepository(db),
		Hub:      hub,
	}
}

// TableSnapshot is the authoritative view of one table: the session (real or
// recovered), the unsettled orders and their total, all recomputed from the
// order store.
type TableSnapshot struct {
	Session *models.Session `json:"session"`
	Orders  []models.Order  `json:"orders"`
	Total   float64         `json:"total"`
}

// GetActiveSession returns the active session for a table, or ErrNotFound.
func (s *SessionService) GetActiveSession(tableID uint) (*models.Session, error) {
	session, err := s.Sessions.GetActive(tableID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no active session for table %d", ErrNotFound, tableID)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// StartSession opens a session for the table, or returns the existing active
// one unchanged. Losing the creation race to a concurrent caller is not a
// failure: the winner's session is returned.
func (s *SessionService) StartSession(tableID uint) (*models.Session, error) {
	var table models.Table
	if err := s.DB.First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: table %d", ErrNotFound, tableID)
		}
		return nil, err
	}

	session, created, err := s.Sessions.CreateIfAbsent(tableID)
	if err != nil {
		return nil, err
	}

	if created {
		if err := s.DB.Model(&models.Table{}).
			Where("id = ?", tableID).
			Update("status", models.TableOccupied).Error; err != nil {
			utils.ErrorLogger.Printf("Failed to mark table %d occupied: %v", tableID, err)
		}
		utils.InfoLogger.Printf("Session %s started at table %d", session.SessionID, tableID)
	}
	return session, nil
}

// EndSession marks the table's active session completed. Settlement checks
// belong to the caller (the settlement engine); this deliberately does not
// verify that the table's orders are paid.
func (s *SessionService) EndSession(tableID uint) error {
	affected, err := s.Sessions.CloseActive(tableID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: no active session for table %d", ErrNotFound, tableID)
	}

	if err := s.DB.Model(&models.Table{}).
		Where("id = ?", tableID).
		Update("status", models.TableCleaning).Error; err != nil {
		utils.ErrorLogger.Printf("Failed to mark table %d for cleaning: %v", tableID, err)
	}

	utils.InfoLogger.Printf("Session closed at table %d", tableID)
	s.Hub.Publish(tableID, realtime.Event{
		Event: realtime.EventSessionClosed,
	})
	return nil
}

// Snapshot rebuilds the table view every time it is opened:
//  1. look up the active session,
//  2. independently recompute the unsettled orders,
//  3. when no session record exists but unsettled orders remain (the record
//     was lost, e.g. across a restart), synthesize an ephemeral recovered
//     session so operators are never shown a false empty table. The exact
//     original start time is unrecoverable; it is stamped now.
//
// A nil Session with no orders means the table genuinely has no visit.
func (s *SessionService) Snapshot(tableID uint) (*TableSnapshot, error) {
	session, err := s.Sessions.GetActive(tableID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	orders, total, err := s.Orders.UnsettledByTable(tableID)
	if err != nil {
		return nil, err
	}

	if session == nil && len(orders) > 0 {
		session = &models.Session{
			SessionID: "recovered-" + uuid.NewString(),
			TableID:   tableID,
			Status:    models.SessionActive,
			Recovered: true,
			StartedAt: time.Now(),
		}
		utils.InfoLogger.Printf(
			"Recovered session view for table %d (%d unsettled orders, total %s)",
			tableID, len(orders), utils.FormatCurrencyIDR(total))
	}

	return &TableSnapshot{
		Session: session,
		Orders:  orders,
		Total:   total,
	}, nil
}
