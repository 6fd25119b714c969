package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragflow/internal/chunker"
	"github.com/kailas-cloud/ragflow/internal/config"
	"github.com/kailas-cloud/ragflow/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/ragflow/internal/db/redis"
	"github.com/kailas-cloud/ragflow/internal/domain"
	"github.com/kailas-cloud/ragflow/internal/domain/rag"
	domrun "github.com/kailas-cloud/ragflow/internal/domain/run"
	"github.com/kailas-cloud/ragflow/internal/extract/pdf"
	logpkg "github.com/kailas-cloud/ragflow/internal/logger"
	"github.com/kailas-cloud/ragflow/internal/metrics"
	"github.com/kailas-cloud/ragflow/internal/repository/embcache"
	pointrepo "github.com/kailas-cloud/ragflow/internal/repository/point"
	runrepo "github.com/kailas-cloud/ragflow/internal/repository/run"
	chiTransport "github.com/kailas-cloud/ragflow/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/ragflow/internal/transport/openai"
	healthuc "github.com/kailas-cloud/ragflow/internal/usecase/health"
	"github.com/kailas-cloud/ragflow/internal/usecase/ingest"
	"github.com/kailas-cloud/ragflow/internal/usecase/query"
	"github.com/kailas-cloud/ragflow/internal/usecase/vectorstore"
	"github.com/kailas-cloud/ragflow/internal/usecase/workflow"
	"github.com/kailas-cloud/ragflow/internal/version"
)

// vectorIndex is a vector backend that can also be probed by /health.
type vectorIndex interface {
	vectorstore.Index
	healthuc.Pinger
}

// runStore is everything the engine, ingestion bookkeeping and /health need
// from the run store.
type runStore interface {
	workflow.RunStore
	ingest.ChunkCounter
	healthuc.Pinger
}

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting ragflow server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("build_date", version.Date),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("runs_driver", cfg.Workflow.Runs),
		zap.String("collection", cfg.Database.Collection),
	)

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterWorkflowMetrics()

	ctx := context.Background()

	// Redis/Valkey serves the vector index, and optionally runs and the embedding cache.
	var redisStore *dbRedis.Store
	if cfg.Database.Driver == config.DriverRedis || cfg.Database.Driver == config.DriverValkey {
		redisStore, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer redisStore.Close()

		if err := redisStore.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))
	}

	index, err := buildIndex(&cfg, redisStore)
	if err != nil {
		logger.Fatal("Failed to create vector index", zap.Error(err))
	}

	dim := cfg.Embedding.Dimensions
	vectors, err := vectorstore.New(index, cfg.Database.Collection, dim)
	if err != nil {
		logger.Fatal("Invalid vector store settings", zap.Error(err))
	}
	ensureCtx, cancelEnsure := context.WithTimeout(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
	err = vectors.EnsureCollection(ensureCtx)
	cancelEnsure()
	switch {
	case errors.Is(err, domain.ErrVectorDimMismatch):
		logger.Fatal("Collection dimension disagrees with embedding.dimensions", zap.Error(err))
	case err != nil:
		// Retried lazily by the first upsert or search.
		logger.Warn("Collection bootstrap failed", zap.Error(err))
	default:
		logger.Info("Collection ready", zap.String("collection", vectors.Collection()), zap.Int("dim", dim))
	}

	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:       cfg.Embedding.APIKey,
		BaseURL:      cfg.Embedding.BaseURL,
		Model:        cfg.Embedding.Model,
		Dimensions:   dim,
		MaxBatchSize: cfg.Embedding.MaxBatchSize,
		Provider:     cfg.Embedding.Provider,
		Logger:       logger,
	})
	var embedder domain.BatchEmbedder = baseEmbedder
	if cfg.Embedding.Cache.Enabled && redisStore != nil {
		ttl := time.Duration(cfg.Embedding.Cache.TTLHours) * time.Hour
		embedder = embcache.New(baseEmbedder, redisStore, cfg.Embedding.Model, ttl, metrics.EmbeddingCacheTotal, logger)
	}
	logger.Info("Embedder created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", dim),
		zap.Bool("cache", cfg.Embedding.Cache.Enabled),
	)

	chat := openaiTransport.NewChatModel(&openaiTransport.Config{
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Provider: cfg.LLM.Provider,
		Logger:   logger,
	})

	extractor := pdf.New(cfg.Chunking.PdftotextPath)
	if err := extractor.CheckAvailable(); err != nil {
		logger.Warn("PDF extraction unavailable, ingest runs will fail", zap.Error(err))
	}
	splitter, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		logger.Fatal("Invalid chunking settings", zap.Error(err))
	}

	runs, closeRuns, err := openRunStore(&cfg, redisStore, logger)
	if err != nil {
		logger.Fatal("Failed to open run store", zap.Error(err))
	}
	defer closeRuns()

	engine, err := workflow.New(runs, workflow.Config{
		PoolSize:  cfg.Workflow.PoolSize,
		QueueSize: cfg.Workflow.QueueSize,
		Retry: workflow.RetryPolicy{
			MaxAttempts:    cfg.Workflow.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Workflow.Retry.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Workflow.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:     cfg.Workflow.Retry.Multiplier,
			Retryable:      domain.IsRetryable,
		},
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create workflow engine", zap.Error(err))
	}

	ingestSvc := ingest.New(extractor, splitter, embedder, vectors, runs, dim)
	engine.Register(domrun.KindIngest, ingestSvc.Handle)

	defaults, err := rag.NewQueryOptions(cfg.Query.DefaultTopK, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	if err != nil {
		logger.Fatal("Invalid query defaults", zap.Error(err))
	}
	querySvc := query.New(embedder, vectors, chat, cfg.LLM.Model, defaults, dim)
	engine.Register(domrun.KindQuery, querySvc.Handle)

	healthSvc := healthuc.New(index, runs, baseEmbedder)

	server := chiTransport.NewServer(engine, healthSvc, logger).WithMaxTopK(cfg.Query.MaxTopK)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal", zap.Int("runs_in_flight", engine.InFlight()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	// Stop taking events first, then drain the runs already scheduled.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during HTTP shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("Runs interrupted during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildIndex selects the vector backend for the configured driver.
func buildIndex(cfg *config.Config, redisStore *dbRedis.Store) (vectorIndex, error) {
	switch cfg.Database.Driver {
	case config.DriverQdrant:
		c, err := qdrant.New(qdrant.Config{
			URL:     cfg.Database.URL,
			APIKey:  cfg.Database.APIKey,
			Timeout: time.Duration(cfg.Database.RequestTimeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant client: %w", err)
		}
		return c, nil
	case config.DriverRedis, config.DriverValkey:
		return pointrepo.New(redisStore).WithHNSW(pointrepo.HNSWConfig{
			M:           cfg.Database.HNSWM,
			EFConstruct: cfg.Database.HNSWEFConstruct,
		}), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openRunStore opens the configured run store and returns its closer.
func openRunStore(cfg *config.Config, redisStore *dbRedis.Store, logger *zap.Logger) (runStore, func(), error) {
	ttl := time.Duration(cfg.Workflow.RunTTLHours) * time.Hour
	switch cfg.Workflow.Runs {
	case config.DriverBadger:
		s, err := runrepo.OpenBadger(cfg.Workflow.BadgerPath, false, ttl, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Run store opened", zap.String("driver", "badger"), zap.String("path", cfg.Workflow.BadgerPath))
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("Failed to close run store", zap.Error(err))
			}
		}, nil
	default:
		if redisStore == nil {
			return nil, nil, fmt.Errorf("run store %q needs a redis/valkey database", cfg.Workflow.Runs)
		}
		logger.Info("Run store opened", zap.String("driver", cfg.Workflow.Runs))
		return runrepo.NewRedis(redisStore, ttl), func() {}, nil
	}
}
