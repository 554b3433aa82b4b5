package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/linework/internal/api"
	"github.com/dunamismax/linework/internal/config"
	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/dunamismax/linework/internal/queue"
	"github.com/dunamismax/linework/internal/ratelimit"
	"github.com/dunamismax/linework/internal/storage"
	"github.com/dunamismax/linework/internal/store"
	"github.com/dunamismax/linework/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "linework-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	processor, err := pipeline.NewProcessor(cfg.Pipeline.Options(), logger)
	if err != nil {
		logger.Fatalf("pipeline init failed: %v", err)
	}
	logger.Printf("pipeline ready binary=%s shapes=%d tmp=%s max_concurrency=%d",
		cfg.Pipeline.VectorizerBinary, cfg.Pipeline.Shapes, cfg.Pipeline.TempRoot, cfg.Pipeline.MaxConcurrency)

	opts := api.Options{
		Converter:             processor,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		RequestTimeout:        cfg.API.RequestTimeout,
	}

	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		opts.RateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	}

	if cfg.API.AsyncJobs {
		queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Printf("queue client close error: %v", err)
			}
		}()

		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage init failed: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("storage bucket check failed: %v", err)
		}

		jobStore, closeStore := openJobStore(ctx, cfg.Database, logger)
		defer closeStore()

		opts.Queue = queueClient
		opts.Storage = storageClient
		opts.Jobs = jobStore
		logger.Printf("async jobs enabled queue=%s bucket=%s", cfg.Queue.Name, storageClient.Bucket())
	}

	app, err := api.NewServer(logger, opts)
	if err != nil {
		logger.Fatalf("api init failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      cfg.API.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// openJobStore uses Postgres when a DSN is configured and memory otherwise.
func openJobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("job store=memory")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres job store init failed: %v", err)
	}
	logger.Printf("job store=postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}
