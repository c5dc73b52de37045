package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/config"
	"github.com/dunamismax/shrinky/internal/logging"
	"github.com/dunamismax/shrinky/internal/storage"
	"github.com/dunamismax/shrinky/internal/store"
	"github.com/dunamismax/shrinky/internal/telemetry"
	"github.com/dunamismax/shrinky/internal/webhook"
	"github.com/dunamismax/shrinky/internal/worker"
)

var version = "dev"

func main() {
	logger := logging.New(os.Stdout, "worker")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "shrinky-worker",
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	jobStore, err := store.Open(ctx, store.Config{
		Backend:    cfg.Store.Backend,
		DSN:        cfg.Store.DSN,
		PebblePath: cfg.Store.PebblePath,
	})
	if err != nil {
		logger.Fatalf("open job store: %v", err)
	}
	defer jobStore.Close()

	var objectStore storage.ObjectStore
	if cfg.Storage.Bucket != "" {
		objectStore, err = storage.Open(ctx, storage.Config{
			Backend:         cfg.Storage.Backend,
			Bucket:          cfg.Storage.Bucket,
			Endpoint:        cfg.Storage.Endpoint,
			Access:          cfg.Storage.AccessKey,
			Secret:          cfg.Storage.SecretKey,
			Region:          cfg.Storage.Region,
			UseSSL:          cfg.Storage.UseSSL,
			CredentialsFile: cfg.Storage.CredentialsFile,
		})
		if err != nil {
			logger.Fatalf("open object storage: %v", err)
		}
		defer objectStore.Close()
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, objectStore, webhookClient, jobStore)
	if err != nil {
		logger.Fatalf("initialize worker: %v", err)
	}
	defer codec.Shutdown()

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
		defer metricsServer.Close()
	}

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s object_store=%t heif=%t",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		objectStore != nil,
		codec.NonNativeAvailable(),
	)

	if err := srv.Run(); err != nil {
		logger.Printf("worker failed: %v", err)
	}
}
