package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type OrderController struct {
	DB     *gorm.DB
	Orders *services.OrderService
}

func NewOrderController(db *gorm.DB, hub *realtime.Hub) *OrderController {
	return &OrderController{
		DB:     db,
		Orders: services.NewOrderService(db, hub),
	}
}

// PlaceOrder -> customer or staff submits a cart against a table. Opens the
// session automatically if none is active.
func (oc *OrderController) PlaceOrder(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}

	var body struct {
		Items []services.PlacedItem `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Orders.PlaceOrder(tableID, body.Items)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// GetOrderByID -> detail of one order with items
func (oc *OrderController) GetOrderByID(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	order, err := oc.Orders.GetOrder(orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", order)
}

// GetOrdersByTable -> all orders ever placed against a table
func (oc *OrderController) GetOrdersByTable(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	orders, err := oc.Orders.Orders.GetByTable(tableID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Orders for table", orders)
}

// GetUnsettledOrders -> the aggregation engine's view of a table
func (oc *OrderController) GetUnsettledOrders(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	orders, total, err := oc.Orders.UnsettledOrdersFor(tableID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Unsettled orders", gin.H{
		"orders": orders,
		"total":  total,
	})
}

// UpdateOrderStatus -> staff/chef drives the order status machine
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" && roleInterface != "chef" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Orders.TransitionStatus(orderID, body.Status)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}

// GetKitchenDisplay -> chef & staff overview of orders in flight
func (oc *OrderController) GetKitchenDisplay(c *gin.Context) {
	role, _ := c.Get("role")
	if role != "chef" && role != "staff" && role != "admin" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	orders, err := oc.Orders.KitchenOrders()
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Kitchen display orders", orders)
}
