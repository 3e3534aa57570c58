package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/router"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type integrationEnv struct {
	db     *gorm.DB
	hub    *realtime.Hub
	router *gin.Engine
	token  string
	table  models.Table
	food   models.Menu
	drink  models.Menu
}

// setupIntegrationEnv -> in-memory store, migrated schema, seeded table and
// menu, full production router, staff token
func setupIntegrationEnv(t *testing.T, name string) *integrationEnv {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open in-memory sqlite: %v", err)
	}

	err = db.AutoMigrate(
		&models.Table{},
		&models.Session{},
		&models.Menu{},
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	table := models.Table{TableNumber: "12", Capacity: 4, Status: models.TableAvailable}
	db.Create(&table)
	food := models.Menu{Name: "Nasi Goreng Spesial", Price: 75000, Available: true}
	db.Create(&food)
	drink := models.Menu{Name: "Es Kopi Susu", Price: 80000, Available: true}
	db.Create(&drink)

	hub := realtime.NewHub()
	token, err := utils.GenerateToken(1, "staff")
	assert.NoError(t, err)

	return &integrationEnv{
		db:     db,
		hub:    hub,
		router: router.SetupRouter(db, hub),
		token:  "Bearer " + token,
		table:  table,
		food:   food,
		drink:  drink,
	}
}

func (e *integrationEnv) request(method, path string, payload interface{}, authed bool) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *integrationEnv) placeOrder(t *testing.T, menuID uint, quantity int) map[string]interface{} {
	t.Helper()
	w := e.request(http.MethodPost, fmt.Sprintf("/tables/%d/orders", e.table.ID),
		map[string]interface{}{
			"items": []map[string]interface{}{{"menu_id": menuID, "quantity": quantity}},
		}, false)
	assert.Equal(t, http.StatusCreated, w.Code)
	return decodeResponse(t, w)["data"].(map[string]interface{})
}

func (e *integrationEnv) snapshot(t *testing.T) map[string]interface{} {
	t.Helper()
	w := e.request(http.MethodGet, fmt.Sprintf("/tables/%d/snapshot", e.table.ID), nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	return decodeResponse(t, w)["data"].(map[string]interface{})
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp
}

// Two devices at the same table order independently: both orders land in one
// session and one aggregate bill.
func TestTwoDevicesShareOneSession(t *testing.T) {
	env := setupIntegrationEnv(t, "it_shared_session")

	first := env.placeOrder(t, env.food.ID, 2)   // 150,000
	second := env.placeOrder(t, env.drink.ID, 1) // 80,000
	assert.Equal(t, first["session_id"], second["session_id"])

	snap := env.snapshot(t)
	session := snap["session"].(map[string]interface{})
	assert.Equal(t, first["session_id"], session["session_id"])
	assert.Equal(t, false, session["recovered"])
	assert.Len(t, snap["orders"].([]interface{}), 2)
	assert.Equal(t, 230000.0, snap["total"])

	var count int64
	env.db.Model(&models.Session{}).
		Where("table_id = ? AND status = ?", env.table.ID, models.SessionActive).
		Count(&count)
	assert.Equal(t, int64(1), count)
}

// The session record disappears mid-visit; the snapshot recovers the visit
// from the surviving orders and settlement still completes.
func TestSessionRecoveryAfterLoss(t *testing.T) {
	env := setupIntegrationEnv(t, "it_recovery")

	env.placeOrder(t, env.food.ID, 2)
	env.placeOrder(t, env.drink.ID, 1)

	env.db.Where("table_id = ?", env.table.ID).Delete(&models.Session{})

	snap := env.snapshot(t)
	session := snap["session"].(map[string]interface{})
	assert.Equal(t, true, session["recovered"])
	assert.Len(t, snap["orders"].([]interface{}), 2)
	assert.Equal(t, 230000.0, snap["total"])

	w := env.request(http.MethodPost, fmt.Sprintf("/admin/tables/%d/settle", env.table.ID),
		map[string]interface{}{"method": "cash"}, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Table settled", decodeResponse(t, w)["message"])

	snap = env.snapshot(t)
	assert.Nil(t, snap["session"])
	assert.Empty(t, snap["orders"])
}

// Cash bulk settlement: every order of the visit ends up paid, the session
// closes, and the table is immediately reusable with a fresh identity.
func TestCashBulkSettlement(t *testing.T) {
	env := setupIntegrationEnv(t, "it_cash_settlement")

	first := env.placeOrder(t, env.food.ID, 2)
	env.placeOrder(t, env.drink.ID, 1)

	w := env.request(http.MethodPost, fmt.Sprintf("/admin/tables/%d/settle", env.table.ID),
		map[string]interface{}{"method": "cash"}, true)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "Table settled", resp["message"])
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, 230000.0, data["total"])
	assert.Equal(t, true, data["session_closed"])

	var unpaid int64
	env.db.Model(&models.Order{}).
		Where("table_id = ? AND payment_status <> ?", env.table.ID, models.PaymentPaid).
		Count(&unpaid)
	assert.Equal(t, int64(0), unpaid)

	// The next guest starts over.
	next := env.placeOrder(t, env.food.ID, 1)
	assert.NotEqual(t, first["session_id"], next["session_id"])
	snap := env.snapshot(t)
	assert.Len(t, snap["orders"].([]interface{}), 1)
	assert.Equal(t, 75000.0, snap["total"])
}

// Transfer settlement that never gets confirmed: the expired settlement is
// abandoned with an explicit timeout error, the real orders remain unsettled,
// and a fresh attempt succeeds.
func TestTransferTimeoutLeavesOrdersSettleable(t *testing.T) {
	env := setupIntegrationEnv(t, "it_transfer_timeout")

	env.placeOrder(t, env.food.ID, 1)

	// A dedicated settlement engine with an already-elapsed deadline stands
	// in for waiting out the real timeout.
	settlements := services.NewSettlementService(env.db, env.hub)
	settlements.Timeout = -time.Minute

	result, err := settlements.SettleTable(env.table.ID, models.MethodTransfer)
	assert.NoError(t, err)
	assert.NotNil(t, result.Settlement)

	_, err = settlements.ConfirmTransfer(result.Settlement.ID)
	assert.ErrorIs(t, err, services.ErrPaymentTimeout)

	snap := env.snapshot(t)
	assert.Len(t, snap["orders"].([]interface{}), 1)
	assert.Equal(t, 75000.0, snap["total"])

	// Retry through the API, this time in cash.
	w := env.request(http.MethodPost, fmt.Sprintf("/admin/tables/%d/settle", env.table.ID),
		map[string]interface{}{"method": "cash"}, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Table settled", decodeResponse(t, w)["message"])
}

// Transfer settlement confirmed through the staff endpoint end to end.
func TestTransferSettlementConfirmed(t *testing.T) {
	env := setupIntegrationEnv(t, "it_transfer_confirm")

	env.placeOrder(t, env.food.ID, 2)

	w := env.request(http.MethodPost, fmt.Sprintf("/admin/tables/%d/settle", env.table.ID),
		map[string]interface{}{"method": "transfer"}, true)
	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeResponse(t, w)
	assert.Equal(t, "Settlement awaiting confirmation", resp["message"])
	settlement := resp["data"].(map[string]interface{})["settlement"].(map[string]interface{})
	settlementID := int(settlement["id"].(float64))

	// Until confirmation the bill is still open.
	snap := env.snapshot(t)
	assert.Len(t, snap["orders"].([]interface{}), 1)

	w = env.request(http.MethodPost, fmt.Sprintf("/admin/settlements/%d/confirm", settlementID), nil, true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Settlement confirmed", decodeResponse(t, w)["message"])

	snap = env.snapshot(t)
	assert.Nil(t, snap["session"])
	assert.Empty(t, snap["orders"])
	assert.Equal(t, 0.0, snap["total"])
}
