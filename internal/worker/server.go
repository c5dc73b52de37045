package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/config"
	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
	"github.com/dunamismax/shrinky/internal/pipeline"
	"github.com/dunamismax/shrinky/internal/queue"
	"github.com/dunamismax/shrinky/internal/raster"
	"github.com/dunamismax/shrinky/internal/selector"
	"github.com/dunamismax/shrinky/internal/storage"
	"github.com/dunamismax/shrinky/internal/store"
	"github.com/dunamismax/shrinky/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	metrics         *metrics
	tracer          trace.Tracer
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires the queue consumer. objectStore may be nil, in which case
// object_store jobs fail permanently.
func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	objectStore storage.ObjectStore,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	m := newMetrics()

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, pipeline.WithObserver(m))
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:            make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor: localProcessor,
		jobStore:       jobStore,
		metrics:        m,
		tracer:         otel.Tracer("shrinky/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}

	if objectStore != nil {
		objectProcessor, err := pipeline.NewObjectStoreProcessor(objectStore, workerCfg.OutputPrefix, pipeline.WithObserver(m))
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		s.objectProcessor = objectProcessor
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeShrinkImage, s.handleShrinkImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleShrinkImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseShrinkImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.shrink_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.output_format", payload.OutputFormat),
		attribute.String("job.geometry", payload.Geometry),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"converting job_id=%s source_type=%s object_key=%s output_format=%s geometry=%s",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
		orAuto(payload.OutputFormat),
		payload.Geometry,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")

		permanent := isPermanent(err)
		if permanent || finalAttempt(ctx) {
			s.finishJob(ctx, payload.JobID, nil, err.Error())
			_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
				"job_id":       payload.JobID,
				"status":       domain.JobStatusFailed,
				"object_key":   payload.ObjectKey,
				"requested_at": payload.RequestedAt,
				"failed_at":    time.Now().UTC(),
				"error":        err.Error(),
			})
		}
		if permanent {
			return fmt.Errorf("convert: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("convert: %w", err)
	}

	jobResult := result.JobResult()
	s.logger.Printf(
		"converted job_id=%s format=%s bytes=%d original_bytes=%d path=%s",
		payload.JobID,
		jobResult.Format,
		jobResult.Bytes,
		jobResult.OriginalBytes,
		jobResult.Path,
	)
	s.finishJob(ctx, payload.JobID, &jobResult, "")
	s.recordResult(result)

	outcome = domain.JobStatusSucceeded
	// The output is already written and the job finished; a retry would
	// convert again, so a failed notification is only logged.
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"result":       jobResult,
	}); err != nil {
		span.RecordError(err)
	}

	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.ShrinkImagePayload) (pipeline.Result, error) {
	req := pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		ObjectKey:    payload.ObjectKey,
		OutputFormat: payload.OutputFormat,
		Geometry:     payload.Geometry,
	}

	var p processor
	switch strings.ToLower(payload.SourceType) {
	case domain.SourceTypeLocalFile:
		p = s.localProcessor
	case domain.SourceTypeObjectStore:
		p = s.objectProcessor
	default:
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	if p == nil {
		return pipeline.Result{}, fmt.Errorf("%w: %s is not configured on this worker", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	return p.Process(ctx, req)
}

func (s *Server) recordResult(result pipeline.Result) {
	conv := result.Conversion
	mode := "explicit"
	if conv.Auto {
		mode = "auto"
	}
	savings := conv.Savings()

	s.metrics.formatWins.WithLabelValues(conv.Output.Format.String(), mode).Inc()
	s.metrics.inputBytesTotal.Add(float64(savings.Original))
	s.metrics.outputBytesTotal.Add(float64(savings.Converted))
	s.metrics.bytesSavedTotal.Add(float64(savings.SavedBytes()))
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) finishJob(ctx context.Context, jobID string, result *domain.JobResult, jobErr string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, result, jobErr); err != nil {
		s.logger.Printf("job finish failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ShrinkImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// isPermanent reports errors that retrying the same input cannot fix.
func isPermanent(err error) bool {
	for _, target := range []error{
		raster.ErrDecode,
		codec.ErrEncode,
		selector.ErrAllFormatsFailed,
		format.ErrUnsupported,
		geometry.ErrInvalid,
		pipeline.ErrUnsupportedSourceType,
		storage.ErrObjectNotFound,
		os.ErrNotExist,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func orAuto(outputFormat string) string {
	if outputFormat == "" {
		return "auto"
	}
	return outputFormat
}
