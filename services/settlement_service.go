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

// DefaultSettlementTimeout bounds how long a transfer settlement may wait
// for external confirmation before it is abandoned.
const DefaultSettlementTimeout = 30 * time.Minute

// SettlementService is the payment reconciliation state machine. It settles
// single orders at point of service and whole tables in bulk, and closes the
// session once a bulk settlement lands. Every path recomputes the unsettled
// set from the order store, which is what makes partial failures self-heal
// on retry.
type SettlementService struct {
	DB       *gorm.DB
	Orders   *repository.OrderRepository
	Sessions *SessionService
	Hub      *realtime.Hub
	Timeout  time.Duration

	stopChan chan struct{}
}

func NewSettlementService(db *gorm.DB, hub *realtime.Hub) *SettlementService {
	return &SettlementService{
		DB:       db,
		Orders:   repository.NewOrderRepository(db),
		Sessions: NewSessionService(db, hub),
		Hub:      hub,
		Timeout:  DefaultSettlementTimeout,
		stopChan: make(chan struct{}),
	}
}

// SettlementResult reports what a settlement call did.
type SettlementResult struct {
	TableID       uint          `json:"table_id"`
	Method        string        `json:"method"`
	SettledIDs    []uint        `json:"settled_order_ids"`
	Total         float64       `json:"total"`
	SessionClosed bool          `json:"session_closed"`
	Settlement    *models.Order `json:"settlement,omitempty"`
}

// SettleOrder marks a single order paid with the supplied method, for one
// order paid directly at point of service. Re-settling an already-paid order
// is a no-op, not an error.
func (s *SettlementService) SettleOrder(orderID uint, method string) (*models.Order, error) {
	if method != models.MethodCash && method != models.MethodTransfer {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}

	order, err := s.Orders.GetByID(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	if order.OrderType != models.OrderTypeDineIn {
		return nil, fmt.Errorf("%w: order %d is not a dine-in order", ErrValidation, orderID)
	}
	if order.PaymentStatus == models.PaymentPaid {
		return order, nil
	}

	// Transfer reaches paid only through awaiting_payment; walk the
	// intermediate statuses instead of bypassing the payment machine. Cash
	// jumps straight to paid.
	status := order.PaymentStatus
	if method == models.MethodTransfer {
		for status != models.PaymentAwaitingPayment {
			var next string
			switch status {
			case models.PaymentNone:
				next = models.PaymentPending
			case models.PaymentPending:
				next = models.PaymentAwaitingPayment
			}
			if next == "" || !CanTransitionPayment(status, next, method) {
				return nil, fmt.Errorf("%w: payment %s -> %s",
					ErrInvalidTransition, status, models.PaymentPaid)
			}
			if err := s.Orders.UpdatePayment(order.ID, method, next); err != nil {
				return nil, err
			}
			status = next
		}
	}
	if !CanTransitionPayment(status, models.PaymentPaid, method) {
		return nil, fmt.Errorf("%w: payment %s -> %s",
			ErrInvalidTransition, status, models.PaymentPaid)
	}

	affected, err := s.Orders.MarkOrdersPaid([]uint{orderID}, method)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		order.PaymentMethod = method
		order.PaymentStatus = models.PaymentPaid
		utils.InfoLogger.Printf("Order #%d settled (%s, %s)",
			orderID, method, utils.FormatCurrencyIDR(order.Total))
		s.publishPaid(order.TableID, []uint{orderID})
	}
	return order, nil
}

// SettleTable settles every unsettled order of a table at once.
//
// An empty unsettled set is a no-op result, not an error: duplicate
// settlement requests are a normal race between observers. Cash settles and
// closes the session immediately; transfer creates a synthetic aggregate
// order carrying the lump sum and waits for external confirmation.
func (s *SettlementService) SettleTable(tableID uint, method string) (*SettlementResult, error) {
	if method != models.MethodCash && method != models.MethodTransfer {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}

	orders, total, err := s.Orders.UnsettledByTable(tableID)
	if err != nil {
		return nil, err
	}

	result := &SettlementResult{TableID: tableID, Method: method}
	if len(orders) == 0 {
		return result, nil
	}

	ids := make([]uint, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	result.SettledIDs = ids
	result.Total = total

	if method == models.MethodTransfer {
		settlement, err := s.createSettlementOrder(tableID, ids, total)
		if err != nil {
			return nil, err
		}
		result.Settlement = settlement
		utils.InfoLogger.Printf(
			"Transfer settlement %s created for table %d (%d orders, %s), awaiting confirmation",
			settlement.ReferenceID, tableID, len(ids), utils.FormatCurrencyIDR(total))
		return result, nil
	}

	// Cash needs no external confirmation: one guarded batch write, then
	// close the session.
	if _, err := s.Orders.MarkOrdersPaid(ids, models.MethodCash); err != nil {
		return nil, err
	}
	result.SessionClosed = s.closeSession(tableID)
	utils.InfoLogger.Printf("Table %d settled in cash (%d orders, %s)",
		tableID, len(ids), utils.FormatCurrencyIDR(total))
	s.publishPaid(tableID, ids)
	return result, nil
}

// ConfirmTransfer completes a pending transfer settlement once the external
// gateway confirmed the lump-sum payment. The covered set is recomputed
// fresh from the store, so retrying a partially-failed confirmation only
// touches orders still outstanding.
func (s *SettlementService) ConfirmTransfer(settlementID uint) (*SettlementResult, error) {
	settlement, err := s.Orders.GetByID(settlementID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: settlement %d", ErrNotFound, settlementID)
	}
	if err != nil {
		return nil, err
	}
	if settlement.OrderType != models.OrderTypeSettlement {
		return nil, fmt.Errorf("%w: order %d is not a settlement", ErrValidation, settlementID)
	}

	result := &SettlementResult{
		TableID:    settlement.TableID,
		Method:     models.MethodTransfer,
		Total:      settlement.Total,
		Settlement: settlement,
	}

	// Confirming twice is the same normal race as settling twice.
	if settlement.PaymentStatus == models.PaymentPaid {
		return result, nil
	}
	if settlement.Status == models.OrderCancelled ||
		(settlement.ExpiresAt != nil && time.Now().After(*settlement.ExpiresAt)) {
		s.abandonSettlement(settlement)
		return nil, fmt.Errorf("%w: settlement %s expired before confirmation",
			ErrPaymentTimeout, settlement.ReferenceID)
	}

	// The confirmed lump sum covers exactly the origin set recorded at
	// creation. Recomputing the unsettled set keeps retry safe; intersecting
	// it with the origin set keeps the scope bounded, so an order placed
	// after the settlement was created stays on the bill.
	origins, err := settlement.OriginOrders()
	if err != nil {
		return nil, err
	}
	covered := make(map[uint]struct{}, len(origins))
	for _, id := range origins {
		covered[id] = struct{}{}
	}

	orders, _, err := s.Orders.UnsettledByTable(settlement.TableID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		if _, ok := covered[o.ID]; ok {
			ids = append(ids, o.ID)
		}
	}
	result.SettledIDs = ids

	if _, err := s.Orders.MarkOrdersPaid(ids, models.MethodTransfer); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.DB.Model(&models.Order{}).
		Where("id = ?", settlement.ID).
		Updates(map[string]interface{}{
			"status":         models.OrderCompleted,
			"payment_status": models.PaymentPaid,
			"paid_at":        now,
			"updated_at":     now,
		}).Error; err != nil {
		return nil, err
	}

	// Orders placed after the settlement keep the visit open; the session
	// closes only once the table owes nothing.
	if remaining, _, err := s.Orders.UnsettledByTable(settlement.TableID); err == nil && len(remaining) == 0 {
		result.SessionClosed = s.closeSession(settlement.TableID)
	}
	utils.InfoLogger.Printf("Transfer settlement %s confirmed for table %d (%d orders, %s)",
		settlement.ReferenceID, settlement.TableID, len(ids),
		utils.FormatCurrencyIDR(settlement.Total))
	s.publishPaid(settlement.TableID, ids)
	return result, nil
}

// AbandonSettlement cancels a pending transfer settlement. The covered
// orders are untouched and remain settleable.
func (s *SettlementService) AbandonSettlement(settlementID uint) error {
	settlement, err := s.Orders.GetByID(settlementID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: settlement %d", ErrNotFound, settlementID)
	}
	if err != nil {
		return err
	}
	if settlement.OrderType != models.OrderTypeSettlement {
		return fmt.Errorf("%w: order %d is not a settlement", ErrValidation, settlementID)
	}
	if settlement.PaymentStatus == models.PaymentPaid {
		return fmt.Errorf("%w: settlement %d already confirmed", ErrValidation, settlementID)
	}
	s.abandonSettlement(settlement)
	return nil
}

// StartExpirySweeper launches the background goroutine that abandons
// transfer settlements whose confirmation never arrived.
func (s *SettlementService) StartExpirySweeper() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweepExpired()
			case <-s.stopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Println("Settlement expiry sweeper started")
}

func (s *SettlementService) Stop() {
	close(s.stopChan)
}

func (s *SettlementService) sweepExpired() {
	var expired []models.Order
	err := s.DB.
		Where("order_type = ? AND payment_status = ? AND expires_at < ?",
			models.OrderTypeSettlement, models.PaymentAwaitingPayment, time.Now()).
		Find(&expired).Error
	if err != nil {
		utils.ErrorLogger.Printf("Error sweeping expired settlements: %v", err)
		return
	}

	for i := range expired {
		s.abandonSettlement(&expired[i])
		utils.InfoLogger.Printf("Settlement %s expired and was abandoned, orders remain unsettled",
			expired[i].ReferenceID)
	}
}

func (s *SettlementService) createSettlementOrder(tableID uint, ids []uint, total float64) (*models.Order, error) {
	expires := time.Now().Add(s.Timeout)
	settlement := &models.Order{
		OrderType:     models.OrderTypeSettlement,
		TableID:       tableID,
		Status:        models.OrderPending,
		Total:         total,
		PaymentMethod: models.MethodTransfer,
		PaymentStatus: models.PaymentAwaitingPayment,
		ReferenceID:   "SET-" + uuid.NewString(),
		ExpiresAt:     &expires,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if session, err := s.Sessions.Sessions.GetActive(tableID); err == nil {
		settlement.SessionID = &session.SessionID
	}
	if err := settlement.SetOriginOrders(ids); err != nil {
		return nil, err
	}
	if err := s.DB.Create(settlement).Error; err != nil {
		return nil, err
	}
	return settlement, nil
}

func (s *SettlementService) abandonSettlement(settlement *models.Order) {
	now := time.Now()
	if err := s.DB.Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", settlement.ID, models.PaymentPaid).
		Updates(map[string]interface{}{
			"status":         models.OrderCancelled,
			"payment_status": models.PaymentNone,
			"updated_at":     now,
		}).Error; err != nil {
		utils.ErrorLogger.Printf("Error abandoning settlement %d: %v", settlement.ID, err)
	}
}

// closeSession ends the table's session after a successful bulk settlement.
// A missing session is fine: the visit may have run on a recovered session
// view, or a concurrent retry already closed it.
func (s *SettlementService) closeSession(tableID uint) bool {
	err := s.Sessions.EndSession(tableID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			utils.ErrorLogger.Printf("Error closing session for table %d: %v", tableID, err)
		}
		return false
	}
	return true
}

func (s *SettlementService) publishPaid(tableID uint, ids []uint) {
	for _, id := range ids {
		s.Hub.Publish(tableID, realtime.Event{
			Event: realtime.EventOrderStatusChanged,
			Data: map[string]interface{}{
				"order_id":       id,
				"payment_status": models.PaymentPaid,
			},
		})
	}
}
