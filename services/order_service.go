package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/repository"
	"github.com/yeremiapane/tablesync/utils"
)

// OrderService places orders and drives the order status machine. Every
// committed write is followed by a broadcast on the table's channel;
// observers re-render from the recomputed snapshot, never from locally
// incremented counters.
type OrderService struct {
	DB       *gorm.DB
	Orders   *repository.OrderRepository
	Sessions *SessionService
	Hub      *realtime.Hub
}

func NewOrderService(db *gorm.DB, hub *realtime.Hub) *OrderService {
	return &OrderService{
		DB:       db,
		Orders:   repository.NewOrderRepository(db),
		Sessions: NewSessionService(db, hub),
		Hub:      hub,
	}
}

// PlacedItem is one requested line of a new order.
type PlacedItem struct {
	MenuID   uint   `json:"menu_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
	Notes    string `json:"notes"`
}

// PlaceOrder validates the cart, snapshots menu prices, opens a session for
// the table if none is active, and persists order plus items in one
// transaction. A failed placement never leaves a partial order behind.
func (s *OrderService) PlaceOrder(tableID uint, items []PlacedItem) (*models.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrValidation)
	}

	// Validate everything before the first write.
	orderItems := make([]models.OrderItem, 0, len(items))
	var total float64
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for menu %d", ErrValidation, item.MenuID)
		}
		var menu models.Menu
		if err := s.DB.First(&menu, item.MenuID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: menu %d", ErrNotFound, item.MenuID)
			}
			return nil, err
		}
		if !menu.Available {
			return nil, fmt.Errorf("%w: menu %q is not available", ErrValidation, menu.Name)
		}

		total += float64(item.Quantity) * menu.Price
		orderItems = append(orderItems, models.OrderItem{
			MenuID:    menu.ID,
			Name:      menu.Name,
			Quantity:  item.Quantity,
			UnitPrice: menu.Price,
			Notes:     item.Notes,
		})
	}

	// First order at a quiet table opens the session.
	session, err := s.Sessions.StartSession(tableID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderType:     models.OrderTypeDineIn,
		TableID:       tableID,
		SessionID:     &session.SessionID,
		Status:        models.OrderPending,
		Total:         total,
		PaymentMethod: models.MethodNone,
		PaymentStatus: models.PaymentNone,
		OrderItems:    orderItems,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := s.Orders.Create(order); err != nil {
		return nil, err
	}

	// Refresh the session's display cache from the recomputed truth.
	if orders, newTotal, err := s.Orders.UnsettledByTable(tableID); err == nil {
		if err := s.Sessions.Sessions.UpdateCache(session.SessionID, len(orders), newTotal); err != nil {
			utils.ErrorLogger.Printf("Failed to refresh session cache: %v", err)
		}
	}

	utils.InfoLogger.Printf("Order #%d placed at table %d (%s)",
		order.ID, tableID, utils.FormatCurrencyIDR(order.Total))
	s.Hub.Publish(tableID, realtime.Event{
		Event: realtime.EventOrderCreated,
		Data:  order,
	})
	return order, nil
}

// GetOrder returns one order with its items.
func (s *OrderService) GetOrder(orderID uint) (*models.Order, error) {
	order, err := s.Orders.GetByID(orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UnsettledOrdersFor re-exposes the aggregation engine.
func (s *OrderService) UnsettledOrdersFor(tableID uint) ([]models.Order, float64, error) {
	return s.Orders.UnsettledByTable(tableID)
}

// TransitionStatus moves an order along the status machine. The store write
// is guarded on the current status, so a concurrent transition loses cleanly
// instead of double-applying.
func (s *OrderService) TransitionStatus(orderID uint, to string) (*models.Order, error) {
	order, err := s.GetOrder(orderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(order.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	var affected int64
	if to == models.OrderCancelled {
		affected, err = s.Orders.CancelGuard(orderID)
	} else {
		affected, err = s.Orders.UpdateStatusGuard(orderID, order.Status, to)
	}
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: order %d changed concurrently", ErrInvalidTransition, orderID)
	}

	order.Status = to
	utils.InfoLogger.Printf("Order #%d status changed to %s", orderID, to)
	s.Hub.Publish(order.TableID, realtime.Event{
		Event: realtime.EventOrderStatusChanged,
		Data: map[string]interface{}{
			"order_id": order.ID,
			"status":   to,
		},
	})
	return order, nil
}

// KitchenOrders lists the dine-in orders the kitchen should see, oldest
// first.
func (s *OrderService) KitchenOrders() ([]models.Order, error) {
	var orders []models.Order
	err := s.DB.Preload("OrderItems").
		Where("order_type = ? AND status IN ?", models.OrderTypeDineIn,
			[]string{models.OrderConfirmed, models.OrderPreparing, models.OrderReady}).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}
