package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type SettlementController struct {
	DB         *gorm.DB
	Settlement *services.SettlementService
	Gateway    services.GatewayVerifier
}

func NewSettlementController(db *gorm.DB, hub *realtime.Hub) *SettlementController {
	return &SettlementController{
		DB:         db,
		Settlement: services.NewSettlementService(db, hub),
		Gateway:    services.GetGatewayService(),
	}
}

// SettleOrder -> mark one order paid at point of service
func (sc *SettlementController) SettleOrder(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	var body struct {
		Method string `json:"method" binding:"required,oneof=cash transfer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := sc.Settlement.SettleOrder(orderID, body.Method)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order settled", order)
}

// SettleTable -> bulk settlement of every unsettled order at a table. Cash
// settles and closes the session immediately; transfer returns a pending
// settlement awaiting gateway confirmation. A table with nothing to settle
// is a no-op, not an error.
func (sc *SettlementController) SettleTable(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	var body struct {
		Method string `json:"method" binding:"required,oneof=cash transfer"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	result, err := sc.Settlement.SettleTable(tableID, body.Method)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if len(result.SettledIDs) == 0 {
		utils.RespondJSON(c, http.StatusOK, "Nothing to settle", result)
		return
	}
	if result.Settlement != nil {
		utils.RespondJSON(c, http.StatusAccepted, "Settlement awaiting confirmation", result)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table settled", result)
}

// ConfirmSettlement -> staff confirms a pending transfer settlement after
// verifying the payment out of band
func (sc *SettlementController) ConfirmSettlement(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	settlementID, ok := parseID(c, "settlement_id")
	if !ok {
		return
	}
	result, err := sc.Settlement.ConfirmTransfer(settlementID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement confirmed", result)
}

// CancelSettlement -> staff abandons a pending transfer settlement; the
// covered orders stay unsettled and retryable
func (sc *SettlementController) CancelSettlement(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	settlementID, ok := parseID(c, "settlement_id")
	if !ok {
		return
	}
	if err := sc.Settlement.AbandonSettlement(settlementID); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Settlement cancelled", gin.H{"settlement_id": settlementID})
}

// HandleGatewayCallback -> signed webhook from the payment gateway reporting
// a transfer outcome. Only the outcome is recorded here; verification of the
// transfer itself happened on the gateway's side.
func (sc *SettlementController) HandleGatewayCallback(c *gin.Context) {
	var body struct {
		ReferenceID string `json:"reference_id" binding:"required"`
		Status      string `json:"status" binding:"required"`
		Signature   string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	if !sc.Gateway.VerifySignature(body.ReferenceID, body.Status, body.Signature) {
		utils.RespondError(c, http.StatusUnauthorized, errors.New("invalid callback signature"))
		return
	}

	settlement, err := sc.Settlement.Orders.GetByReferenceID(body.ReferenceID)
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	switch body.Status {
	case "settlement", "capture":
		result, err := sc.Settlement.ConfirmTransfer(settlement.ID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		utils.RespondJSON(c, http.StatusOK, "Settlement confirmed", result)
	case "expire", "cancel", "deny":
		if err := sc.Settlement.AbandonSettlement(settlement.ID); err != nil {
			respondServiceError(c, err)
			return
		}
		utils.RespondJSON(c, http.StatusOK, "Settlement abandoned", gin.H{
			"reference_id": body.ReferenceID,
		})
	default:
		utils.RespondJSON(c, http.StatusOK, "Status noted", gin.H{
			"reference_id": body.ReferenceID,
			"status":       body.Status,
		})
	}
}
