package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type TableController struct {
	DB       *gorm.DB
	Sessions *services.SessionService
}

func NewTableController(db *gorm.DB, hub *realtime.Hub) *TableController {
	return &TableController{
		DB:       db,
		Sessions: services.NewSessionService(db, hub),
	}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.Atoi(c.Param(param))
	if err != nil || id <= 0 {
		utils.RespondError(c, http.StatusBadRequest, &CustomError{"invalid " + param})
		return 0, false
	}
	return uint(id), true
}

// CreateTable -> register a new table
func (tc *TableController) CreateTable(c *gin.Context) {
	var req struct {
		TableNumber string `json:"table_number" binding:"required"`
		Capacity    int    `json:"capacity"`
		Location    string `json:"location"`
		Status      string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	table := models.Table{
		TableNumber: req.TableNumber,
		Capacity:    req.Capacity,
		Location:    req.Location,
		Status:      models.TableAvailable,
	}
	if req.Capacity <= 0 {
		table.Capacity = 4
	}
	if req.Status != "" {
		table.Status = req.Status
	}

	if err := tc.DB.Create(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("New table created: %s (status=%s)", table.TableNumber, table.Status)
	utils.RespondJSON(c, http.StatusCreated, "Table created successfully", table)
}

// GetAllTables -> list all tables
func (tc *TableController) GetAllTables(c *gin.Context) {
	var tables []models.Table
	if err := tc.DB.Find(&tables).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// GetTableByID -> detail of one table
func (tc *TableController) GetTableByID(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table detail", table)
}

// UpdateTableStatus -> staff updates occupancy status
func (tc *TableController) UpdateTableStatus(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
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

	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	table.Status = body.Status
	if err := tc.DB.Save(&table).Error; err != nil {
		utils.RespondError(c, http.StatusInternalServerError, err)
		return
	}

	utils.InfoLogger.Printf("Table %d status changed to %s", table.ID, table.Status)
	utils.RespondJSON(c, http.StatusOK, "Table status updated", table)
}

// GetTableSnapshot -> the authoritative table view: session (real or
// recovered), unsettled orders, recomputed total. This is what every
// observer renders from, on open and after every event.
func (tc *TableController) GetTableSnapshot(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}

	var table models.Table
	if err := tc.DB.First(&table, tableID).Error; err != nil {
		utils.RespondError(c, http.StatusNotFound, err)
		return
	}

	snapshot, err := tc.Sessions.Snapshot(tableID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table snapshot", snapshot)
}

// GetActiveSession -> the active session record only, 404 when none
func (tc *TableController) GetActiveSession(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	session, err := tc.Sessions.GetActiveSession(tableID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Active session", session)
}

// StartSession -> open a session explicitly (idempotent: returns the
// existing active session unchanged when there is one)
func (tc *TableController) StartSession(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	session, err := tc.Sessions.StartSession(tableID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session active", session)
}

// EndSession -> staff closes the session without settlement (walk-out,
// mistake correction). Settlement-driven closing goes through the
// settlement controller instead.
func (tc *TableController) EndSession(c *gin.Context) {
	roleInterface, _ := c.Get("role")
	if roleInterface != "admin" && roleInterface != "staff" {
		utils.RespondError(c, http.StatusForbidden, ErrNoPermission)
		return
	}

	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	if err := tc.Sessions.EndSession(tableID); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session closed", gin.H{"table_id": tableID})
}
