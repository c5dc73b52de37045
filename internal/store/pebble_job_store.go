package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/dunamismax/shrinky/internal/domain"
)

const pebbleJobPrefix = "job/"

// PebbleJobStore keeps jobs in an embedded key-value store, for single-node
// deployments without PostgreSQL. Pebble locks its directory, so only one
// process may open a path: the api and worker cannot share it. Run both
// against PostgreSQL, or give the worker the memory store.
type PebbleJobStore struct {
	// mu serializes read-modify-write updates.
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleJobStore(path string) (*PebbleJobStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pebble path is required")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble job store %s (is another process using it?): %w", path, err)
	}
	return &PebbleJobStore{db: db}, nil
}

func (s *PebbleJobStore) Create(_ context.Context, job domain.Job) error {
	return s.put(job)
}

func (s *PebbleJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	data, closer, err := s.db.Get(pebbleKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("get job %s: %w", id, err)
	}
	defer closer.Close()

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return job, true, nil
}

func (s *PebbleJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(ctx, id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *PebbleJobStore) Finish(ctx context.Context, id string, result *domain.JobResult, jobErr string) (domain.Job, error) {
	return s.update(ctx, id, func(job *domain.Job) {
		job.Status = finishedStatus(result, jobErr)
		job.Result = result
		job.Error = jobErr
	})
}

func (s *PebbleJobStore) Close() error {
	return s.db.Close()
}

func (s *PebbleJobStore) update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	if err := s.put(job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (s *PebbleJobStore) put(job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.db.Set(pebbleKey(job.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

func pebbleKey(id string) []byte {
	return []byte(pebbleJobPrefix + id)
}
