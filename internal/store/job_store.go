package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/shrinky/internal/domain"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Finish moves a job to a terminal status, recording its result or error.
	Finish(ctx context.Context, id string, result *domain.JobResult, jobErr string) (domain.Job, error)
	Close() error
}

type Config struct {
	Backend    string
	DSN        string
	PebblePath string
}

// Open builds the job store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (JobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryJobStore(), nil
	case BackendPostgres:
		return NewPostgresJobStore(ctx, cfg.DSN)
	case BackendPebble:
		return NewPebbleJobStore(cfg.PebblePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func finishedStatus(result *domain.JobResult, jobErr string) string {
	if jobErr != "" || result == nil {
		return domain.JobStatusFailed
	}
	return domain.JobStatusSucceeded
}
