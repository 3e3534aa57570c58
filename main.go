package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/realtime"
	"github.com/yeremiapane/tablesync/router"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or error loading: %v", err)
	}

	utils.InitLogger()

	db, err := config.InitDB()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	utils.InitDB(db)

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	autoMigrate(db)

	hub := realtime.NewHub()

	// Transfer settlements abandon themselves after this timeout; the
	// underlying orders stay unsettled and retryable.
	settlement := services.NewSettlementService(db, hub)
	if minutes, err := strconv.Atoi(os.Getenv("SETTLEMENT_TIMEOUT_MINUTES")); err == nil && minutes > 0 {
		settlement.Timeout = time.Duration(minutes) * time.Minute
	}
	settlement.StartExpirySweeper()
	defer settlement.Stop()

	// Push is the primary sync mechanism; the monitor only reconciles
	// subscribed tables on a long interval.
	monitor := services.NewResyncMonitor(db, hub)
	monitor.Start()
	defer monitor.Stop()

	rateLimiter := middlewares.NewRateLimiter(50, 1)

	r := router.SetupRouter(db, hub)
	r.Use(rateLimiter.RateLimit())
	r.SetTrustedProxies([]string{"127.0.0.1", "localhost"})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	utils.InfoLogger.Printf("Listening on port %s", port)
	if err := r.Run(":" + port); err != nil {
		utils.ErrorLogger.Fatal(err)
	}
}

func autoMigrate(db *gorm.DB) {
	err := db.AutoMigrate(
		&models.Table{},
		&models.Session{},
		&models.Menu{},
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
}
