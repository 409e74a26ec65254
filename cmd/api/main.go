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
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kb-agent/backend/internal/api/handlers"
	"github.com/kb-agent/backend/internal/cache/redis"
	"github.com/kb-agent/backend/internal/embedding"
	"github.com/kb-agent/backend/internal/kg/neo4j"
	"github.com/kb-agent/backend/internal/metrics"
	"github.com/kb-agent/backend/internal/middleware/ratelimit"
	"github.com/kb-agent/backend/internal/middleware/security"
	"github.com/kb-agent/backend/internal/retrieval"
	"github.com/kb-agent/backend/internal/search/web"
	"github.com/kb-agent/backend/internal/storage/sqlite"
	"github.com/kb-agent/backend/internal/vector/milvus"
	"github.com/kb-agent/backend/pkg/config"
	appLogger "github.com/kb-agent/backend/pkg/logger"
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

	appLogger.Info("Starting KB Agent API Server")

	metrics.Init()

	sqliteClient := sqlite.NewClient(cfg.SQLite.Path)

	embeddingClient := embedding.NewClient(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.TimeoutSec,
	)

	milvusClient := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
		embeddingClient,
	)

	coordinatorOpts := []retrieval.CoordinatorOption{}
	if cfg.Graph.Enabled {
		graphClient := neo4j.NewClient(
			cfg.Graph.URI,
			cfg.Graph.Username,
			cfg.Graph.Password,
			cfg.Graph.Database,
		)
		coordinatorOpts = append(coordinatorOpts, retrieval.WithGraph(
			graphClient,
			cfg.Retrieval.GraphMaxEntities,
			cfg.Retrieval.GraphMaxDepth,
		))
	} else {
		appLogger.Info("Knowledge graph disabled, answering from vector context only")
	}

	coordinator := retrieval.NewCoordinator(milvusClient, sqliteClient, coordinatorOpts...)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = coordinator.Initialize(initCtx)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize retrieval stores", zap.Error(err))
	}
	defer coordinator.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cacheClient *redis.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without response cache", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	processor := retrieval.NewProcessor(
		coordinator,
		retrieval.WithHistory(sqliteClient),
		retrieval.WithLimits(
			cfg.Retrieval.TopK,
			cfg.Retrieval.MinSimilarity,
			cfg.Retrieval.MaxContextChunks,
			cfg.Retrieval.MaxDetailedChunks,
		),
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimit,
		WindowDuration:       time.Minute,
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: []string{"*"},
		IsDevelopment:  cfg.Logging.Level == "debug",
	}))
	app.Use(rateLimiter.Middleware())

	cacheTTL := time.Duration(cfg.Retrieval.CacheTTLSec) * time.Second
	queryHandler := handlers.NewQueryHandler(processor, sqliteClient, cacheClient, cacheTTL)
	feedbackHandler := handlers.NewFeedbackHandler(sqliteClient)
	statsHandler := handlers.NewStatsHandler(coordinator)
	wsHandler := handlers.NewWebSocketHandler(processor)

	api := app.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)
	api.Post("/feedback", feedbackHandler.HandleFeedback)
	api.Get("/stats", statsHandler.HandleStats)

	if cfg.Search.Enabled {
		searchClient := web.NewClient(cfg.Search.SerpAPIKey, cfg.Search.TimeoutSec)
		searchHandler := handlers.NewSearchHandler(searchClient, cfg.Search.MaxResults)
		api.Get("/search", searchHandler.HandleSearch)
	}

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if !coordinator.Ready() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

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
	coordinator.Shutdown()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
