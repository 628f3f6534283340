package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/saeid-a/DeliveryChat/internal/config"
	"github.com/saeid-a/DeliveryChat/internal/database"
	"github.com/saeid-a/DeliveryChat/internal/logging"
	"github.com/saeid-a/DeliveryChat/internal/routes"
	"github.com/saeid-a/DeliveryChat/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New("info", "production").Fatal("Failed to load config", "err", err)
	}
	log := logging.New(cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	db, err := database.Connect(ctx, database.Options{
		URL:            cfg.DBUrl,
		MaxConns:       cfg.DBMaxConns,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", "err", err)
	}
	defer db.Close()
	log.Info("Connected to PostgreSQL")

	// 3. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit: services.MaxUploadSize + 1<<20,
	})

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	if err := routes.RegisterRoutes(ctx, app, cfg, db, log); err != nil {
		log.Fatal("Failed to register routes", "err", err)
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error("Shutdown failed", "err", err)
		}
	}()

	// 4. Start Server
	log.Info("Server starting", "port", cfg.Port, "env", cfg.AppEnv)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("Server failed to start", "err", err)
	}
}
