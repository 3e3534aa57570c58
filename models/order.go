package models

import (
	"encoding/json"
	"time"
)

// Order status values (see services.CanTransition for the allowed edges).
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderPreparing = "preparing"
	OrderReady     = "ready"
	OrderDelivered = "delivered"
	OrderPickedUp  = "picked_up"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"
)

// Order types. A settlement order is a synthetic aggregate that represents
// the lump sum of a bulk transfer settlement; it is never counted by the
// aggregation engine.
const (
	OrderTypeDineIn     = "dine_in"
	OrderTypeSettlement = "settlement"
)

// Payment sub-record status values
const (
	PaymentNone            = "none"
	PaymentPending         = "pending"
	PaymentAwaitingPayment = "awaiting_payment"
	PaymentPaid            = "paid"
)

// Payment methods
const (
	MethodNone     = "none"
	MethodCash     = "cash"
	MethodTransfer = "transfer"
)

type Order struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	OrderType string  `gorm:"type:varchar(20);not null;default:'dine_in';index" json:"order_type"`
	TableID   uint    `gorm:"not null;index" json:"table_id"`
	Table     Table   `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`

	// SessionID is a convenience link stamped at creation time when a session
	// is active. The durable link is TableID; aggregation never relies on
	// this field.
	SessionID *string `gorm:"type:varchar(64);index" json:"session_id,omitempty"`

	Status string  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Total  float64 `gorm:"type:decimal(12,2);not null;default:0.00" json:"total"`

	// Embedded payment sub-record. Method is set no later than the moment
	// status becomes paid.
	PaymentMethod string     `gorm:"type:varchar(20);not null;default:'none'" json:"payment_method"`
	PaymentStatus string     `gorm:"type:varchar(20);not null;default:'none'" json:"payment_status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`

	// Discounts are recorded explicitly at creation; the applied rule is
	// stored rather than reverse-engineered from amounts later.
	DiscountRule   string  `gorm:"type:varchar(100)" json:"discount_rule,omitempty"`
	DiscountAmount float64 `gorm:"type:decimal(12,2);not null;default:0.00" json:"discount_amount"`

	// Settlement-only fields. OriginOrderIDs holds the JSON-encoded ID list
	// of the real orders a settlement order covers; ReferenceID is the
	// identifier surfaced to the external payment gateway.
	OriginOrderIDs string     `gorm:"type:text" json:"origin_order_ids,omitempty"`
	ReferenceID    string     `gorm:"type:varchar(64);index" json:"reference_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	OrderItems []OrderItem `gorm:"foreignKey:OrderID" json:"order_items"`
	CreatedAt  time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"not null" json:"updated_at"`
}

// IsTerminalStatus reports whether an order status excludes the order from
// aggregation regardless of payment state.
func IsTerminalStatus(status string) bool {
	return status == OrderCompleted || status == OrderCancelled
}

// Unsettled reports whether the order still counts toward the table's
// outstanding bill.
func (o *Order) Unsettled() bool {
	return o.OrderType == OrderTypeDineIn &&
		!IsTerminalStatus(o.Status) &&
		o.PaymentStatus != PaymentPaid
}

// SetOriginOrders stores the covered order IDs on a settlement order.
func (o *Order) SetOriginOrders(ids []uint) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	o.OriginOrderIDs = string(raw)
	return nil
}

// OriginOrders returns the covered order IDs of a settlement order.
func (o *Order) OriginOrders() ([]uint, error) {
	if o.OriginOrderIDs == "" {
		return nil, nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(o.OriginOrderIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
