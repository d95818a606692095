package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/service/engagement"
	"github.com/ignite/campaign-mailer/internal/storage"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

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

	if cfg.Events.SQSQueueURL == "" {
		logger.Error("events.sqs_queue_url is required")
		os.Exit(1)
	}
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory store is not shared with the api; events will not reach its records")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, _, err := storage.OpenStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Events.Region)}
	if profile := cfg.Store.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	consumer := tracking.NewConsumer(sqs.NewFromConfig(awsCfg), engagement.NewTracker(store), tracking.ConsumerConfig{
		QueueURL:    cfg.Events.SQSQueueURL,
		WaitSeconds: int32(cfg.Events.WaitSeconds),
		MaxMessages: int32(cfg.Events.MaxMessages),
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down worker")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
