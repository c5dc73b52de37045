package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/queue"
	"github.com/dunamismax/shrinky/internal/store"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger      *log.Logger
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	verifier    tokenVerifier
	rateLimiter RateLimiter
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
	handler     http.Handler
}

type queueEnqueuer interface {
	EnqueueShrinkImage(ctx context.Context, payload queue.ShrinkImagePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type Option func(*Server)

// WithVerifier requires a valid bearer token on every /v1 route.
func WithVerifier(v tokenVerifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

func WithRateLimiter(l RateLimiter) Option {
	return func(s *Server) {
		s.rateLimiter = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts ...Option) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:      logger,
		queueClient: queueClient,
		jobStore:    jobStore,
		storage:     storage,
		metrics:     newMetrics(),
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withAuth(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.jobsRejected.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		s.metrics.jobsRejected.WithLabelValues("invalid_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:           uuid.NewString(),
		Status:       domain.JobStatusCreated,
		SourceType:   strings.ToLower(strings.TrimSpace(req.SourceType)),
		ObjectKey:    strings.TrimSpace(req.ObjectKey),
		OutputFormat: strings.TrimSpace(req.OutputFormat),
		Geometry:     strings.TrimSpace(req.Geometry),
		WebhookURL:   strings.TrimSpace(req.WebhookURL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if !s.allowJob(w, r, job.SourceType) {
		s.metrics.jobsRejected.WithLabelValues("rate_limited").Inc()
		return
	}
	if err := s.verifySourceExists(r.Context(), job); err != nil {
		s.metrics.jobsRejected.WithLabelValues("source_missing").Inc()
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueShrinkImage(r.Context(), queue.ShrinkImagePayload{
		JobID:        job.ID,
		SourceType:   job.SourceType,
		ObjectKey:    job.ObjectKey,
		OutputFormat: job.OutputFormat,
		Geometry:     job.Geometry,
		WebhookURL:   job.WebhookURL,
		RequestedAt:  now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, ferr := s.jobStore.Finish(r.Context(), job.ID, nil, "enqueue failed"); ferr != nil {
			s.logger.Printf("mark job failed job_id=%s err=%v", job.ID, ferr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.observeEnqueued(taskInfo.Queue, job)

	job.Status = domain.JobStatusQueued
	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}
	annotateJob(r.Context(), job)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	annotateJob(r.Context(), job)
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
