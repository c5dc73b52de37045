package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	BackendMinIO = "minio"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the blob storage the worker fetches sources from and
// writes converted images to.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	Close() error
}

type Config struct {
	Backend string
	Bucket  string

	// MinIO and S3.
	Endpoint string
	Access   string
	Secret   string
	Region   string
	UseSSL   bool

	// GCS. Empty means application default credentials.
	CredentialsFile string
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMinIO:
		return NewMinIOClient(cfg)
	case BackendGCS:
		return NewGCSClient(ctx, cfg)
	case BackendS3:
		return NewS3Client(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
