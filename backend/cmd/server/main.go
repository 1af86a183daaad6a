package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/agent"
	"dune-rag/backend/internal/api"
	"dune-rag/backend/internal/graph"
	"dune-rag/backend/internal/history"
	"dune-rag/backend/internal/metrics"
	"dune-rag/backend/internal/retrieval"
	"dune-rag/backend/internal/tools"
	"dune-rag/backend/pkg/config"
	"dune-rag/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	graphClient := graph.NewClient(driver, cfg.Neo4jDatabase, cfg.StoreTimeout)
	graphClient.SetSchemaTTL(cfg.SchemaTTL)
	defer func() {
		if err := graphClient.Close(context.Background()); err != nil {
			log.Warn("Failed to close Neo4j driver", zap.Error(err))
		}
	}()

	// Verify Neo4j connection
	ctx := context.Background()
	if err := graphClient.Ping(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	if _, err := graphClient.Schema(ctx); err != nil {
		log.Warn("Failed to load graph schema, will retry on first graph question", zap.Error(err))
	}

	store, closeStore, err := openHistory(ctx, cfg, graphClient)
	if err != nil {
		log.Fatal("Failed to open history store", zap.String("backend", cfg.HistoryBackend), zap.Error(err))
	}
	defer closeStore()

	// Initialize dependencies
	collector := metrics.NewCollector("dune_rag")
	chat := adapter.NewLLMAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.AgentModel,
		adapter.WithMaxRetries(cfg.LLMMaxRetries),
		adapter.WithTimeout(cfg.LLMTimeout),
	)
	llm := metrics.InstrumentChatModel(chat, chat.Model(), collector)
	embedder := adapter.NewEmbeddingAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.LLMTimeout)
	strategies := retrieval.NewDefaultRegistry(cfg.DefaultStrategy, cfg.RetrievalTopK, embedder, graphClient)

	graphTool := tools.NewGraphTool(llm, graphClient, store, tools.Options{
		Model:         cfg.CypherModel,
		HistoryWindow: cfg.HistoryWindow,
		StoreTimeout:  cfg.StoreTimeout,
	}, cfg.QAModel, cfg.GraphMaxRows)
	vectorTool := tools.NewVectorTool(llm, strategies, store, tools.Options{
		Model:         cfg.AgentModel,
		HistoryWindow: cfg.HistoryWindow,
		StoreTimeout:  cfg.StoreTimeout,
	})
	agentOrch := agent.NewOrchestrator(llm, cfg.AgentModel, graphTool, vectorTool)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Agent:      agentOrch,
		Strategies: strategies,
		Metrics:    collector,
		Health:     graphClient.Ping,
		Logger:     log,
		Settings: api.Settings{
			RequestTimeout: cfg.RequestTimeout,
			BatchLimit:     cfg.BatchLimit,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		},
	})

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("port", cfg.Port),
			zap.String("path", api.BasePath),
			zap.String("history", cfg.HistoryBackend),
			zap.Strings("strategies", strategies.Keys()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// openHistory builds the configured conversation store. The returned func
// releases whatever connection the store owns; the Neo4j store shares the
// graph client's driver and releases nothing.
func openHistory(ctx context.Context, cfg *config.Config, graphClient *graph.Client) (history.Store, func(), error) {
	noop := func() {}

	switch cfg.HistoryBackend {
	case config.HistoryNeo4j:
		store := history.NewNeo4jStore(graphClient.Driver(), graphClient.Database())
		if err := store.EnsureConstraints(ctx); err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case config.HistoryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := history.NewRedisStore(client, cfg.RedisKeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store, func() { _ = client.Close() }, nil

	case config.HistorySQL:
		db, err := history.OpenSQL(cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		store, err := history.NewSQLStore(db)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		return store, closeDB, nil

	case config.HistoryMemory:
		return history.NewMemoryStore(), noop, nil
	}

	return nil, nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
}
