package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

type CreateJobRequest struct {
	SourceType   string `json:"source_type"`
	ObjectKey    string `json:"object_key"`
	OutputFormat string `json:"output_format,omitempty"`
	Geometry     string `json:"geometry,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
}

// JobResult describes the file a finished job produced.
type JobResult struct {
	Format        format.Format `json:"format"`
	Path          string        `json:"path"`
	Bytes         int64         `json:"bytes"`
	OriginalBytes int64         `json:"original_bytes"`
	SourceWidth   int           `json:"source_width"`
	SourceHeight  int           `json:"source_height"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Auto          bool          `json:"auto"`
}

type Job struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	SourceType   string     `json:"source_type"`
	ObjectKey    string     `json:"object_key"`
	OutputFormat string     `json:"output_format,omitempty"`
	Geometry     string     `json:"geometry,omitempty"`
	WebhookURL   string     `json:"webhook_url,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks the request shape and parses the output format and
// geometry so bad values are rejected before anything is enqueued.
func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObjectStore {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required")
	}
	if _, err := format.FromPath(r.ObjectKey); err != nil {
		return fmt.Errorf("object_key: %w", err)
	}
	if v := strings.TrimSpace(r.OutputFormat); v != "" {
		if _, err := format.Parse(v); err != nil {
			return fmt.Errorf("output_format: %w", err)
		}
	}
	if v := strings.TrimSpace(r.Geometry); v != "" {
		if _, err := geometry.Parse(v); err != nil {
			return fmt.Errorf("geometry: %w", err)
		}
	}
	return nil
}

// Terminal reports whether the job will not change status again.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
