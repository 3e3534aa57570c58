package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/utils"
)

func TestSettleOrderCash(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_order_cash")
	table := seedTable(db, "C1")
	menu := seedMenu(db, "Sate Ayam", 30000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	order, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 2}})
	assert.NoError(t, err)

	settled, err := settlements.SettleOrder(order.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, settled.PaymentStatus)
	assert.Equal(t, models.MethodCash, settled.PaymentMethod)

	var reloaded models.Order
	db.First(&reloaded, order.ID)
	assert.Equal(t, models.PaymentPaid, reloaded.PaymentStatus)
	assert.NotNil(t, reloaded.PaidAt)

	// Settling an already-paid order is a no-op, not an error.
	again, err := settlements.SettleOrder(order.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, again.PaymentStatus)

	// A single-order settlement does not close the table's session.
	_, err = settlements.Sessions.GetActiveSession(table.ID)
	assert.NoError(t, err)
}

func TestSettleOrderValidation(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_order_validation")
	table := seedTable(db, "C2")
	menu := seedMenu(db, "Bakso", 25000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	order, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)

	_, err = settlements.SettleOrder(order.ID, "voucher")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = settlements.SettleOrder(9999, models.MethodCash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettleTableCash(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_table_cash")
	table := seedTable(db, "C3")
	menu := seedMenu(db, "Ayam Bakar", 40000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	first, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)
	second, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 2}})
	assert.NoError(t, err)

	result, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{first.ID, second.ID}, result.SettledIDs)
	assert.Equal(t, 120000.0, result.Total)
	assert.True(t, result.SessionClosed)
	assert.Nil(t, result.Settlement)

	// Every order of the visit is paid, none left behind.
	var unpaid int64
	db.Model(&models.Order{}).
		Where("table_id = ? AND payment_status <> ?", table.ID, models.PaymentPaid).
		Count(&unpaid)
	assert.Equal(t, int64(0), unpaid)

	_, err = settlements.Sessions.GetActiveSession(table.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Retrying after everything settled is a clean no-op.
	retry, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Empty(t, retry.SettledIDs)
	assert.Zero(t, retry.Total)
	assert.False(t, retry.SessionClosed)
}

func TestSettleTableEmptyIsNoOp(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_table_empty")
	table := seedTable(db, "C4")
	settlements := NewSettlementService(db, realtime.NewHub())

	result, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Empty(t, result.SettledIDs)
	assert.Zero(t, result.Total)
}

func TestSettleTableTransferConfirm(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_table_transfer")
	table := seedTable(db, "C5")
	menu := seedMenu(db, "Gado Gado", 28000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	first, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)
	second, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 2}})
	assert.NoError(t, err)

	result, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)
	assert.NotNil(t, result.Settlement)
	assert.Equal(t, models.OrderTypeSettlement, result.Settlement.OrderType)
	assert.Equal(t, models.PaymentAwaitingPayment, result.Settlement.PaymentStatus)
	assert.Equal(t, 84000.0, result.Settlement.Total)
	assert.NotNil(t, result.Settlement.ExpiresAt)
	origins, err := result.Settlement.OriginOrders()
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{first.ID, second.ID}, origins)

	// The synthetic aggregate never counts toward the bill itself, and the
	// real orders stay unsettled until confirmation lands.
	unsettled, total, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Len(t, unsettled, 2)
	assert.Equal(t, 84000.0, total)

	confirmed, err := settlements.ConfirmTransfer(result.Settlement.ID)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []uint{first.ID, second.ID}, confirmed.SettledIDs)
	assert.True(t, confirmed.SessionClosed)

	unsettled, total, err = orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Empty(t, unsettled)
	assert.Zero(t, total)

	var settlement models.Order
	db.First(&settlement, result.Settlement.ID)
	assert.Equal(t, models.OrderCompleted, settlement.Status)
	assert.Equal(t, models.PaymentPaid, settlement.PaymentStatus)

	// Confirming twice is the same normal race as settling twice.
	again, err := settlements.ConfirmTransfer(result.Settlement.ID)
	assert.NoError(t, err)
	assert.Empty(t, again.SettledIDs)
}

func TestConfirmTransferScopedToOriginOrders(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_transfer_scope")
	table := seedTable(db, "C10")
	menu := seedMenu(db, "Ikan Bakar", 50000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	covered, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 3}})
	assert.NoError(t, err)

	result, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)

	// A new order arrives while the transfer confirmation is pending. The
	// confirmed lump sum never included it, so confirmation must not touch
	// it and must not close the still-live visit.
	late, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 6}})
	assert.NoError(t, err)

	confirmed, err := settlements.ConfirmTransfer(result.Settlement.ID)
	assert.NoError(t, err)
	assert.Equal(t, []uint{covered.ID}, confirmed.SettledIDs)
	assert.False(t, confirmed.SessionClosed)

	var lateReloaded models.Order
	db.First(&lateReloaded, late.ID)
	assert.Equal(t, models.PaymentNone, lateReloaded.PaymentStatus)

	unsettled, total, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Len(t, unsettled, 1)
	assert.Equal(t, late.ID, unsettled[0].ID)
	assert.Equal(t, 300000.0, total)

	_, err = settlements.Sessions.GetActiveSession(table.ID)
	assert.NoError(t, err)

	// Settling the remainder closes the visit.
	retry, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Equal(t, []uint{late.ID}, retry.SettledIDs)
	assert.True(t, retry.SessionClosed)
}

func TestSettleOrderTransferWalksPaymentPath(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_order_transfer")
	table := seedTable(db, "C11")
	menu := seedMenu(db, "Udang Goreng", 60000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	order, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentNone, order.PaymentStatus)

	settled, err := settlements.SettleOrder(order.ID, models.MethodTransfer)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, settled.PaymentStatus)
	assert.Equal(t, models.MethodTransfer, settled.PaymentMethod)

	var reloaded models.Order
	db.First(&reloaded, order.ID)
	assert.Equal(t, models.PaymentPaid, reloaded.PaymentStatus)
	assert.Equal(t, models.MethodTransfer, reloaded.PaymentMethod)
	assert.NotNil(t, reloaded.PaidAt)
}

func TestConfirmTransferAfterTimeout(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_transfer_timeout")
	table := seedTable(db, "C6")
	menu := seedMenu(db, "Soto Ayam", 22000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)
	settlements.Timeout = -time.Minute // already expired at creation

	order, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)

	result, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)

	_, err = settlements.ConfirmTransfer(result.Settlement.ID)
	assert.ErrorIs(t, err, ErrPaymentTimeout)

	// The expired settlement is cancelled; the covered order is untouched
	// and the table remains settleable.
	var settlement models.Order
	db.First(&settlement, result.Settlement.ID)
	assert.Equal(t, models.OrderCancelled, settlement.Status)

	unsettled, _, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Len(t, unsettled, 1)
	assert.Equal(t, order.ID, unsettled[0].ID)

	// A fresh settlement attempt after the timeout succeeds.
	settlements.Timeout = DefaultSettlementTimeout
	retry, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Equal(t, []uint{order.ID}, retry.SettledIDs)
}

func TestSweepExpiredSettlements(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_sweep")
	table := seedTable(db, "C7")
	menu := seedMenu(db, "Mie Goreng", 27000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)
	settlements.Timeout = -time.Minute

	_, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)
	result, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)

	settlements.sweepExpired()

	var settlement models.Order
	db.First(&settlement, result.Settlement.ID)
	assert.Equal(t, models.OrderCancelled, settlement.Status)
	assert.Equal(t, models.PaymentNone, settlement.PaymentStatus)

	unsettled, _, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Len(t, unsettled, 1)
}

func TestAbandonSettlement(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_abandon")
	table := seedTable(db, "C8")
	menu := seedMenu(db, "Nasi Uduk", 18000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	_, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)
	result, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)

	assert.NoError(t, settlements.AbandonSettlement(result.Settlement.ID))

	unsettled, _, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Len(t, unsettled, 1)

	// Abandoning a confirmed settlement is rejected.
	fresh, err := settlements.SettleTable(table.ID, models.MethodTransfer)
	assert.NoError(t, err)
	_, err = settlements.ConfirmTransfer(fresh.Settlement.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, settlements.AbandonSettlement(fresh.Settlement.ID), ErrValidation)
}

func TestSettleTableClosesRecoveredVisit(t *testing.T) {
	utils.InitLogger()
	db := setupServiceTestDB("settle_recovered")
	table := seedTable(db, "C9")
	menu := seedMenu(db, "Es Jeruk", 10000)
	hub := realtime.NewHub()
	orders := NewOrderService(db, hub)
	settlements := NewSettlementService(db, hub)

	order, err := orders.PlaceOrder(table.ID, []PlacedItem{{MenuID: menu.ID, Quantity: 1}})
	assert.NoError(t, err)

	// The session record is gone but the visit lives on through its orders.
	db.Where("table_id = ?", table.ID).Delete(&models.Session{})

	result, err := settlements.SettleTable(table.ID, models.MethodCash)
	assert.NoError(t, err)
	assert.Equal(t, []uint{order.ID}, result.SettledIDs)
	// No session record existed to close; the settlement still completes.
	assert.False(t, result.SessionClosed)

	unsettled, _, err := orders.UnsettledOrdersFor(table.ID)
	assert.NoError(t, err)
	assert.Empty(t, unsettled)
}
