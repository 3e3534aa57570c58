package router

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/controllers"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/realtime"
)

func SetupRouter(db *gorm.DB, hub *realtime.Hub) *gin.Engine {
	r := gin.Default()

	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares())
	r.Use(middlewares.LoggerMiddleware())

	authCtrl := controllers.NewAuthController()
	tableCtrl := controllers.NewTableController(db, hub)
	orderCtrl := controllers.NewOrderController(db, hub)
	settlementCtrl := controllers.NewSettlementController(db, hub)
	streamCtrl := controllers.NewStreamController(hub)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Table device (no auth): snapshot, session lookup, order placement,
	// the per-table event stream.
	r.GET("/tables/:table_id/snapshot", tableCtrl.GetTableSnapshot)
	r.GET("/tables/:table_id/session", tableCtrl.GetActiveSession)
	r.POST("/tables/:table_id/orders", orderCtrl.PlaceOrder)
	r.GET("/orders/:order_id", orderCtrl.GetOrderByID)
	r.GET("/ws/tables/:table_id", streamCtrl.TableStream)

	// Signed webhook from the payment gateway.
	r.POST("/settlements/callback", settlementCtrl.HandleGatewayCallback)

	// ----------------------------------------------------------------
	//                      AUTHENTICATED ROUTES
	// ----------------------------------------------------------------
	auth := r.Group("/admin")
	auth.Use(middlewares.EnhancedAuthMiddleware())

	// AUTH
	auth.POST("/logout", authCtrl.Logout)

	// TABLES
	auth.GET("/tables", tableCtrl.GetAllTables)
	auth.POST("/tables", tableCtrl.CreateTable)
	auth.GET("/tables/:table_id", tableCtrl.GetTableByID)
	auth.PATCH("/tables/:table_id", tableCtrl.UpdateTableStatus)
	auth.GET("/tables/:table_id/snapshot", tableCtrl.GetTableSnapshot)

	// SESSIONS
	auth.POST("/tables/:table_id/session", tableCtrl.StartSession)
	auth.DELETE("/tables/:table_id/session", tableCtrl.EndSession)

	// ORDERS
	auth.GET("/tables/:table_id/orders", orderCtrl.GetOrdersByTable)
	auth.GET("/tables/:table_id/unsettled", orderCtrl.GetUnsettledOrders)
	auth.PATCH("/orders/:order_id/status", orderCtrl.UpdateOrderStatus)
	auth.GET("/kitchen/display", orderCtrl.GetKitchenDisplay)

	// SETTLEMENT (rate-limited: payment actions are rare and sensitive)
	settle := auth.Group("/")
	settle.Use(middlewares.NewStrictRateLimiter())
	{
		settle.POST("/orders/:order_id/settle", settlementCtrl.SettleOrder)
		settle.POST("/tables/:table_id/settle", settlementCtrl.SettleTable)
		settle.POST("/settlements/:settlement_id/confirm", settlementCtrl.ConfirmSettlement)
		settle.POST("/settlements/:settlement_id/cancel", settlementCtrl.CancelSettlement)
	}

	// Authenticated event stream for kitchen display and dashboard.
	wsGroup := r.Group("/ws/admin")
	wsGroup.Use(middlewares.WebSocketAuthMiddleware())
	{
		wsGroup.GET("/tables/:table_id", streamCtrl.TableStream)
	}

	return r
}
