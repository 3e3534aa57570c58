package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
)

type OrderRepository struct {
	DB *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{DB: db}
}

// Create persists an order together with its items in one transaction.
func (r *OrderRepository) Create(order *models.Order) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return tx.Create(order).Error
	})
}

func (r *OrderRepository) GetByID(orderID uint) (*models.Order, error) {
	var order models.Order
	if err := r.DB.Preload("OrderItems").First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByReferenceID(refID string) (*models.Order, error) {
	var order models.Order
	err := r.DB.Where("reference_id = ?", refID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetByTable(tableID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.DB.Preload("OrderItems").
		Where("table_id = ?", tableID).
		Order("created_at asc").
		Find(&orders).Error
	return orders, err
}

// UnsettledByTable recomputes the authoritative set of unsettled orders and
// their total for a table, straight from the store. Settlement rows,
// terminally-statused orders and paid orders are excluded; the rest are
// returned in creation order. This is always recomputed rather than read
// from any cached counter, because counters drift under concurrent writers
// and under session loss.
func (r *OrderRepository) UnsettledByTable(tableID uint) ([]models.Order, float64, error) {
	var orders []models.Order
	err := r.DB.Preload("OrderItems").
		Where("table_id = ? AND order_type = ?", tableID, models.OrderTypeDineIn).
		Where("status NOT IN ?", []string{models.OrderCompleted, models.OrderCancelled}).
		Where("payment_status <> ?", models.PaymentPaid).
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	var total float64
	for _, o := range orders {
		total += o.Total
	}
	return orders, total, nil
}

// UpdateStatusGuard moves an order from one status to another only if it is
// still in the expected status. Returns affected rows; zero means the guard
// failed (already moved, or concurrent writer won).
func (r *OrderRepository) UpdateStatusGuard(orderID uint, from, to string) (int64, error) {
	res := r.DB.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// CancelGuard cancels an order from any non-terminal status.
func (r *OrderRepository) CancelGuard(orderID uint) (int64, error) {
	res := r.DB.Model(&models.Order{}).
		Where("id = ? AND status NOT IN ?", orderID,
			[]string{models.OrderCompleted, models.OrderCancelled}).
		Updates(map[string]interface{}{"status": models.OrderCancelled, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// MarkOrdersPaid settles a batch of orders in one guarded write. Only rows
// that are still unpaid are touched, which is what makes bulk settlement
// safely retryable: re-running against the same IDs is a no-op for rows a
// previous attempt already marked.
func (r *OrderRepository) MarkOrdersPaid(orderIDs []uint, method string) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := r.DB.Model(&models.Order{}).
		Where("id IN ? AND payment_status <> ?", orderIDs, models.PaymentPaid).
		Updates(map[string]interface{}{
			"payment_method": method,
			"payment_status": models.PaymentPaid,
			"paid_at":        now,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

// UpdatePayment sets the payment sub-record of a single order.
func (r *OrderRepository) UpdatePayment(orderID uint, method, status string) error {
	updates := map[string]interface{}{
		"payment_method": method,
		"payment_status": status,
		"updated_at":     time.Now(),
	}
	if status == models.PaymentPaid {
		updates["paid_at"] = time.Now()
	}
	return r.DB.Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}
