// Agora server: multi-agent topic chat: HTTP API, per-agent actor
// runtime, and the Redis event bus tying them together.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agora-ai/agora/pkg/actor"
	"github.com/agora-ai/agora/pkg/api"
	"github.com/agora-ai/agora/pkg/chain"
	"github.com/agora-ai/agora/pkg/chatagent"
	"github.com/agora-ai/agora/pkg/config"
	"github.com/agora-ai/agora/pkg/mcp"
	"github.com/agora-ai/agora/pkg/store"
	"github.com/agora-ai/agora/pkg/topic"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	agorabus "github.com/agora-ai/agora/pkg/bus"
)

// chainTTL bounds how long an unfinished action chain survives in Redis.
const chainTTL = 24 * time.Hour

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

type redisPinger struct{ rdb redis.UniversalClient }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs migrations)
	dbClient, err := store.NewClient(ctx, cfg.Database.StoreConfig())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Connect Redis (event bus, interrupt flags, action chains)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 4. Wire stores and the topic service
	messageStore := store.NewMessageStore(dbClient)
	topicStore := store.NewTopicStore(dbClient)
	llmConfigStore := store.NewLLMConfigStore(dbClient)

	publisher := agorabus.NewPublisher(rdb)
	flags := topic.NewInterruptFlags(rdb)
	topicService := topic.NewService(messageStore, topicStore, publisher, flags)
	chainStore := chain.NewStore(rdb, chainTTL)

	// 5. MCP infrastructure: config-declared servers plus whatever agents
	// declare on their ext at activation time
	mcpRegistry, err := cfg.BuildMCPRegistry()
	if err != nil {
		slog.Error("Failed to build MCP server registry", "error", err)
		os.Exit(1)
	}
	mcpFactory := mcp.NewClientFactory(mcpRegistry)

	healthMon := mcp.NewHealthMonitor(mcpFactory)
	healthMon.Start(ctx)

	keywords := slices.Concat(mcp.DefaultParameterErrorKeywords, cfg.LLM.ParamErrorKeywords)

	// 6. Actor manager with the chat agent behavior
	manager := actor.NewManager(rdb, actor.Deps{
		Topics:             topicService,
		LLMConfigs:         llmConfigStore,
		Chains:             chainStore,
		Runners:            &actor.ExecutorFactory{Clients: mcpFactory, Keywords: keywords},
		Servers:            mcpRegistry,
		ParamErrorKeywords: keywords,
	}, func(string) actor.Behavior { return chatagent.New() })

	// 7. HTTP server
	httpServer := api.NewServer(api.Config{
		Topics: topicService,
		Agents: manager,
		DB:     dbPinger{db: dbClient.DB()},
		Redis:  redisPinger{rdb: rdb},
		MCP:    healthMon,
		Rdb:    rdb,
	})
	e := echo.New()
	httpServer.Routes(e)

	srv := &http.Server{
		Addr:              cfg.System.ListenAddr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Agora started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then drain actors
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.System.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}

	healthMon.Stop()
	manager.Shutdown(shutdownCtx)
	slog.Info("Agora stopped")
}
