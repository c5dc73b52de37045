package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/pipeline"
	"github.com/dunamismax/shrinky/internal/queue"
	"github.com/dunamismax/shrinky/internal/raster"
	"github.com/dunamismax/shrinky/internal/store"
	"github.com/dunamismax/shrinky/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
)

func TestHandleShrinkImageSucceeds(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "photo.png")
	if err := os.WriteFile(input, buildPNG(t, 120, 60), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	m := newMetrics()
	processor, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"), pipeline.WithObserver(m))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	jobStore := seededStore(t, "job-1")
	hooks := &captureWebhook{}
	s := newTestServer(m, jobStore, hooks)
	s.localProcessor = processor

	task := shrinkTask(t, queue.ShrinkImagePayload{
		JobID:        "job-1",
		SourceType:   domain.SourceTypeLocalFile,
		ObjectKey:    input,
		OutputFormat: "jpg",
		Geometry:     "60x",
		WebhookURL:   "https://example.test/hook",
		RequestedAt:  time.Now().UTC(),
	})
	if err := s.handleShrinkImage(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.Status, job.Error)
	}
	if job.Result == nil || job.Result.Format != format.JPG || job.Result.Width != 60 || job.Result.Height != 30 {
		t.Fatalf("unexpected result %+v", job.Result)
	}
	if _, err := os.Stat(job.Result.Path); err != nil {
		t.Fatalf("expected output file: %v", err)
	}

	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventJobCompleted {
		t.Fatalf("expected one completed webhook, got %v", hooks.events)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected 1 succeeded job, got %v", got)
	}
	if got := testutil.ToFloat64(m.formatWins.WithLabelValues("JPG", "explicit")); got != 1 {
		t.Fatalf("expected JPG explicit win, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeJobs); got != 0 {
		t.Fatalf("expected no active jobs, got %v", got)
	}
}

func TestHandleShrinkImageWebhookFailureKeepsSuccess(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "photo.png")
	if err := os.WriteFile(input, buildPNG(t, 40, 20), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	m := newMetrics()
	processor, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	jobStore := seededStore(t, "job-hook")
	hooks := &captureWebhook{err: errors.New("receiver down")}
	s := newTestServer(m, jobStore, hooks)
	s.localProcessor = processor

	task := shrinkTask(t, queue.ShrinkImagePayload{
		JobID:        "job-hook",
		SourceType:   domain.SourceTypeLocalFile,
		ObjectKey:    input,
		OutputFormat: "png",
		WebhookURL:   "https://example.test/hook",
		RequestedAt:  time.Now().UTC(),
	})
	if err := s.handleShrinkImage(context.Background(), task); err != nil {
		t.Fatalf("webhook failure after conversion must not fail the task: %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-hook")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", job.Status, job.Error)
	}
	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventJobCompleted {
		t.Fatalf("expected one completed webhook attempt, got %v", hooks.events)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected 1 succeeded job, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhookFailures.WithLabelValues(webhook.EventJobCompleted)); got != 1 {
		t.Fatalf("expected 1 webhook failure, got %v", got)
	}
}

func TestHandleShrinkImageAutoRecordsAttempts(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "photo.png")
	if err := os.WriteFile(input, buildPNG(t, 32, 32), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	m := newMetrics()
	sizes := map[format.Format]int{format.JPG: 90, format.PNG: 70, format.WEBP: 50, format.AVIF: 50, format.HEIC: 80}
	processor, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"),
		pipeline.WithObserver(m),
		pipeline.WithEncoder(sizeEncoder(sizes)),
	)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	jobStore := seededStore(t, "job-auto")
	s := newTestServer(m, jobStore, nil)
	s.localProcessor = processor

	task := shrinkTask(t, queue.ShrinkImagePayload{
		JobID:      "job-auto",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
	})
	if err := s.handleShrinkImage(context.Background(), task); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-auto")
	if job.Result == nil || job.Result.Format != format.WEBP || !job.Result.Auto {
		t.Fatalf("expected auto WEBP result, got %+v", job.Result)
	}
	if got := testutil.ToFloat64(m.encodeAttempts.WithLabelValues("HEIF", "error")); got != 1 {
		t.Fatalf("expected one failed HEIF attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.encodeAttempts.WithLabelValues("WEBP", "ok")); got != 1 {
		t.Fatalf("expected one WEBP attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.formatWins.WithLabelValues("WEBP", "auto")); got != 1 {
		t.Fatalf("expected WEBP auto win, got %v", got)
	}
}

func TestHandleShrinkImagePermanentFailure(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "broken.png")
	if err := os.WriteFile(input, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	m := newMetrics()
	processor, err := pipeline.NewLocalProcessor(filepath.Join(tmp, "out"), pipeline.WithObserver(m))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	jobStore := seededStore(t, "job-bad")
	hooks := &captureWebhook{}
	s := newTestServer(m, jobStore, hooks)
	s.localProcessor = processor

	err = s.handleShrinkImage(context.Background(), shrinkTask(t, queue.ShrinkImagePayload{
		JobID:      "job-bad",
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  input,
		WebhookURL: "https://example.test/hook",
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !errors.Is(err, raster.ErrDecode) {
		t.Fatalf("expected decode error in chain, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-bad")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", job)
	}
	if len(hooks.events) != 1 || hooks.events[0] != webhook.EventJobFailed {
		t.Fatalf("expected one failed webhook, got %v", hooks.events)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusFailed)); got != 1 {
		t.Fatalf("expected 1 failed job, got %v", got)
	}
}

func TestHandleShrinkImageObjectStoreNotConfigured(t *testing.T) {
	s := newTestServer(newMetrics(), seededStore(t, "job-obj"), nil)

	err := s.handleShrinkImage(context.Background(), shrinkTask(t, queue.ShrinkImagePayload{
		JobID:      "job-obj",
		SourceType: domain.SourceTypeObjectStore,
		ObjectKey:  "uploads/a.png",
	}))
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, pipeline.ErrUnsupportedSourceType) {
		t.Fatalf("expected permanent unsupported source error, got %v", err)
	}
}

func TestHandleShrinkImageRejectsBadPayload(t *testing.T) {
	s := newTestServer(newMetrics(), nil, nil)
	err := s.handleShrinkImage(context.Background(), asynq.NewTask(queue.TypeShrinkImage, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if isPermanent(errors.New("connection reset")) {
		t.Fatal("transient error must not be permanent")
	}
	if !isPermanent(&codec.EncodeError{Format: format.HEIC, Err: errors.New("boom")}) {
		t.Fatal("encode error must be permanent")
	}
	if !isPermanent(os.ErrNotExist) {
		t.Fatal("missing source must be permanent")
	}
}

func newTestServer(m *metrics, jobStore store.JobStore, hooks webhookSender) *Server {
	return &Server{
		logger:        log.New(io.Discard, "", 0),
		sem:           make(chan struct{}, 1),
		jobStore:      jobStore,
		webhookClient: hooks,
		metrics:       m,
		tracer:        otel.Tracer("test"),
	}
}

func seededStore(t *testing.T, id string) *store.MemoryJobStore {
	t.Helper()
	jobStore := store.NewMemoryJobStore()
	now := time.Now().UTC()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:        id,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return jobStore
}

func shrinkTask(t *testing.T, payload queue.ShrinkImagePayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewShrinkImageTask(payload)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func buildPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type sizeEncoder map[format.Format]int

func (e sizeEncoder) Encode(_ *raster.Buffer, f format.Format) (codec.Output, error) {
	size, ok := e[f]
	if !ok {
		return codec.Output{}, &codec.EncodeError{Format: f, Err: errors.New("unavailable")}
	}
	return codec.Output{Format: f, Data: bytes.Repeat([]byte{1}, size)}, nil
}

type captureWebhook struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (c *captureWebhook) Send(_ context.Context, endpoint, event string, _ any) error {
	if !strings.HasPrefix(endpoint, "https://") {
		return errors.New("unexpected endpoint")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}
