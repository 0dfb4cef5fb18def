package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/credishield/backend/internal/api/handlers"
	"github.com/credishield/backend/internal/cache/redis"
	"github.com/credishield/backend/internal/gateway"
	"github.com/credishield/backend/internal/metrics"
	"github.com/credishield/backend/internal/middleware/ratelimit"
	"github.com/credishield/backend/internal/middleware/security"
	"github.com/credishield/backend/internal/scorer"
	"github.com/credishield/backend/internal/storage/sqlite"
	"github.com/credishield/backend/pkg/circuitbreaker"
	"github.com/credishield/backend/pkg/config"
	appLogger "github.com/credishield/backend/pkg/logger"
	"github.com/credishield/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CrediShield API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	// An unusable history store is fatal: every served score must be
	// loggable before the first request is accepted.
	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	scoreCache := connectScoreCache(cfg)
	if scoreCache != nil {
		defer scoreCache.Close()
	}

	scorerClient := scorer.NewHTTPClient(cfg.Scorer.BaseURL, time.Duration(cfg.Scorer.TimeoutSec)*time.Second)
	scorerBreaker := circuitbreaker.New("scorer", circuitbreaker.Config{
		Logger: appLogger.Log,
	})

	var cache gateway.ScoreCache
	if scoreCache != nil {
		cache = scoreCache
	}
	gw := gateway.New(sqliteClient, scorerClient, scorerBreaker, cache, time.Duration(cfg.Redis.TTLSec)*time.Second)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.Log,
	})

	predictionHandler := handlers.NewPredictionHandler(gw)
	analyticsHandler := handlers.NewAnalyticsHandler(gw)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "credishield-api",
		})
	})

	app.Post("/predict", limiter.Middleware(), predictionHandler.HandlePredict)
	app.Get("/analytics", analyticsHandler.HandleAnalytics)
	app.Get("/model/registry", predictionHandler.HandleRegistry)
	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// connectScoreCache dials Redis with backoff when caching is enabled. The
// cache is an optimization: if Redis never comes up the server starts
// anyway and every request goes straight to the scorer.
func connectScoreCache(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}

	var client *redis.Client
	err := retry.Do(context.Background(), retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		Logger:       appLogger.Log,
	}, func() error {
		var dialErr error
		client, dialErr = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		return dialErr
	})
	if err != nil {
		appLogger.Warn("Score cache unavailable, continuing without it", zap.Error(err))
		return nil
	}

	return client
}
