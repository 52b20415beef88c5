// QueryHive server. Serves the HTTP API, runs the queue workers that drive
// the question-to-SQL pipeline, and owns the background embedding generator.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/queryhive/queryhive/pkg/api"
	"github.com/queryhive/queryhive/pkg/cache"
	"github.com/queryhive/queryhive/pkg/config"
	"github.com/queryhive/queryhive/pkg/database"
	"github.com/queryhive/queryhive/pkg/embedding"
	"github.com/queryhive/queryhive/pkg/engine"
	"github.com/queryhive/queryhive/pkg/history"
	"github.com/queryhive/queryhive/pkg/llm"
	"github.com/queryhive/queryhive/pkg/pipeline"
	"github.com/queryhive/queryhive/pkg/queue"
	"github.com/queryhive/queryhive/pkg/registry"
	"github.com/queryhive/queryhive/pkg/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	logger := slog.Default()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET must be set")
		os.Exit(1)
	}

	logger.Info("Starting QueryHive",
		"http_port", cfg.HTTPPort,
		"workers", cfg.Queue.WorkerCount,
		"dataset_dir", cfg.DatasetDir)

	ctx := context.Background()

	// 1. Metadata database (also backs the queue and result store).
	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	if cfg.BrokerURL != cfg.DatabaseURL || cfg.ResultBackendURL != cfg.DatabaseURL {
		logger.Warn("BROKER_URL / RESULT_BACKEND_URL differ from DATABASE_URL; " +
			"the queue and result store live in the metadata database, ignoring override")
	}
	pool := dbClient.Pool()

	// 2. Shared infrastructure: object registry, response cache, engine manager.
	reg := registry.New()
	responseCache := cache.NewManager(cfg.Cache.Capacity, cfg.Cache.TTL)
	engines := engine.NewManager(cfg.DatasetDir)
	defer engines.Close()

	// 3. Model client and semantic history.
	llmClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, logger)
	embedder := embedding.NewOpenAIEmbedder(
		cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		cfg.History.EmbeddingModel, cfg.History.EmbeddingCacheTTL)

	histStore := history.NewStore(pool, cfg.History.EmbeddingModel)
	generator := embedding.NewGenerator(embedder, histStore, logger)
	generator.Start(ctx)
	defer generator.Stop()

	var histService pipeline.HistoryService
	if cfg.History.Enabled {
		histService = history.NewService(histStore, embedder, generator, cfg.History, logger)
	} else {
		logger.Info("Semantic history disabled")
	}

	// 4. Pipeline and worker pool.
	runner := pipeline.Build(pipeline.Deps{
		Registry: reg,
		LLM:      llmClient,
		History:  histService,
		Cache:    responseCache,
		Logger:   logger,
	})

	agentService := services.NewAgentService(pool, responseCache, reg)
	executor := queue.NewPipelineExecutor(agentService, engines, reg, runner, logger)

	workerPool := queue.NewWorkerPool(queue.NewStore(pool), &cfg.Queue, executor)
	if err := workerPool.Start(ctx); err != nil {
		logger.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 5. Domain services and HTTP server.
	userService := services.NewUserService(pool)
	connectionService := services.NewConnectionService(pool, engines, reg)
	sessionService := services.NewChatSessionService(pool)
	runService := services.NewRunService(pool, agentService, sessionService)

	server := api.NewServer(cfg.HTTPPort, api.Deps{
		Users:       userService,
		Connections: connectionService,
		Agents:      agentService,
		Sessions:    sessionService,
		Runs:        runService,
		DB:          dbClient,
		Pool:        workerPool,
		JWTSecret:   cfg.JWTSecret,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("QueryHive started")

	// 6. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown: drain workers first so in-flight runs finish,
	// then stop accepting HTTP traffic.
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, incomplete runs will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}
