package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/pkg/httpretry"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/engagement"
	"github.com/ignite/campaign-mailer/internal/storage"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

// The tracking edge serves /track-open and /sns-email-events against the
// shared store, so pixel traffic can be scaled apart from the api.
func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults plus env when empty)")
	port := flag.Int("port", 8081, "listen port")
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
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory store is not shared with the api; opens will not reach its records")
	}

	ctx := context.Background()
	store, db, err := storage.OpenStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	th := tracking.NewHandler(engagement.NewTracker(store), httpretry.New(nil, 3))
	hc := api.NewHealthChecker(cfg.Store.Backend, db, nil)

	srvCfg := cfg.Server
	srvCfg.Port = *port
	srv := api.NewServer(srvCfg, api.SetupTrackingRoutes(th, hc))

	go func() {
		logger.Info("tracking edge listening", "addr", srvCfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking edge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}
