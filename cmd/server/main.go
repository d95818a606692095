package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/dispatch"
	"github.com/ignite/campaign-mailer/internal/service/engagement"
	"github.com/ignite/campaign-mailer/internal/service/recipients"
	"github.com/ignite/campaign-mailer/internal/service/records"
	"github.com/ignite/campaign-mailer/internal/ses"
	"github.com/ignite/campaign-mailer/internal/storage"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults plus env when empty)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	logger.Info("campaign mailer api starting", "store", cfg.Store.Backend, "addr", cfg.Server.Addr())

	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, db, err := storage.OpenStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, locks fall back", "addr", cfg.Redis.Addr, "error", err)
			redisClient = nil
		}
		pingCancel()
	}
	locks := distlock.NewProvider(redisClient, db, 30*time.Second)
	logger.Info("lock backend selected", "backend", locks.Backend())

	sender, err := ses.NewFromConfig(ctx, cfg.SES)
	if err != nil {
		logger.Error("failed to initialise SES", "error", err)
		os.Exit(1)
	}

	var recOpts []records.Option
	if cfg.Uploads.S3Bucket != "" {
		archiver, err := storage.NewS3ArchiverFromConfig(ctx, cfg.Uploads.S3Bucket, cfg.Uploads.S3Region, cfg.Store.GetAWSProfile())
		if err != nil {
			logger.Error("failed to initialise upload archive", "error", err)
			os.Exit(1)
		}
		recOpts = append(recOpts, records.WithArchiver(archiver))
		logger.Info("csv uploads archived", "bucket", cfg.Uploads.S3Bucket)
	}

	tracker := engagement.NewTracker(store)
	dispatcher := dispatch.New(store, recipients.NewResolver(store), sender, dispatch.Config{
		TrackingBaseURL: cfg.Tracking.BaseURL,
		Concurrency:     cfg.Dispatch.Concurrency,
	})
	handlers := api.NewHandlers(
		records.New(store, locks, recOpts...),
		dispatcher,
		tracker,
		cfg.Uploads.MaxBytes(),
	)
	router := api.SetupRoutes(
		handlers,
		tracking.NewHandler(tracker, httpretry.New(nil, 3)),
		api.NewHealthChecker(cfg.Store.Backend, db, redisClient),
		cfg.CORS.AllowedOrigins,
	)
	server := api.NewServer(cfg.Server, router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr(), "tracking_base_url", cfg.Tracking.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
