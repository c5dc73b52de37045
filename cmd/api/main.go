package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/shrinky/internal/api"
	"github.com/dunamismax/shrinky/internal/auth"
	"github.com/dunamismax/shrinky/internal/config"
	"github.com/dunamismax/shrinky/internal/logging"
	"github.com/dunamismax/shrinky/internal/queue"
	"github.com/dunamismax/shrinky/internal/ratelimit"
	"github.com/dunamismax/shrinky/internal/storage"
	"github.com/dunamismax/shrinky/internal/store"
	"github.com/dunamismax/shrinky/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var version = "dev"

func main() {
	issueSubject := flag.String("issue-token", "", "print a signed API token for `SUBJECT` and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	logger := logging.New(os.Stdout, "api")
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if *issueSubject != "" {
		if err := issueToken(os.Stdout, cfg.API, *issueSubject, *tokenTTL); err != nil {
			logger.Fatalf("issue token: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "shrinky-api",
		ServiceVersion: version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("setup tracing: %v", err)
	}

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
		objectStore, err = storage.Open(ctx, storageConfig(cfg.Storage))
		if err != nil {
			logger.Fatalf("open object storage: %v", err)
		}
		defer objectStore.Close()
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	opts := []api.Option{api.WithTracer(otel.Tracer("shrinky/api"))}
	if cfg.API.JWTSecret != "" {
		verifier, err := auth.NewVerifier(cfg.API.JWTSecret, cfg.API.JWTIssuer, 30*time.Second)
		if err != nil {
			logger.Fatalf("configure jwt: %v", err)
		}
		opts = append(opts, api.WithVerifier(verifier))
	}
	if cfg.API.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisFixedWindow(redisClient, cfg.API.RateLimit.Requests, cfg.API.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("configure rate limiter: %v", err)
		}
		opts = append(opts, api.WithRateLimiter(limiter))
	}

	var objectStorage interface {
		ObjectExists(ctx context.Context, objectKey string) (bool, error)
	}
	if objectStore != nil {
		objectStorage = objectStore
	}
	app := api.NewServer(logger, queueClient, jobStore, objectStorage, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s store=%s auth=%t rate_limit=%t", cfg.API.Addr, storeBackend(cfg.Store.Backend), cfg.API.JWTSecret != "", cfg.API.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// issueToken prints a bearer token the running API will accept for subject.
func issueToken(w io.Writer, cfg config.APIConfig, subject string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return errors.New("SHRINKY_JWT_SECRET is not set")
	}
	if ttl <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	// Verify with the same checks the server applies so a short secret fails here.
	if _, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, 0); err != nil {
		return err
	}
	token, err := auth.Issue(cfg.JWTSecret, cfg.JWTIssuer, subject, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

func storageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Backend:         c.Backend,
		Bucket:          c.Bucket,
		Endpoint:        c.Endpoint,
		Access:          c.AccessKey,
		Secret:          c.SecretKey,
		Region:          c.Region,
		UseSSL:          c.UseSSL,
		CredentialsFile: c.CredentialsFile,
	}
}

func storeBackend(backend string) string {
	if backend == "" {
		return store.BackendMemory
	}
	return backend
}
