package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/storage"
)

const SourceTypeObjectStore = domain.SourceTypeObjectStore

type ObjectStoreFetcher struct {
	Storage storage.ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      storage.ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, out codec.Output) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultOutputPrefix(e.OutputPrefix),
		sanitizePathToken(req.JobID),
		outputName(req.ObjectKey, out.Format),
	)
	if err := e.Storage.WriteObject(ctx, objectKey, out.Data, out.Format.MIMEType()); err != nil {
		return "", err
	}
	return objectKey, nil
}

func NewObjectStoreProcessor(store storage.ObjectStore, outputPrefix string, opts ...Option) (*Processor, error) {
	if store == nil {
		return nil, errors.New("storage client is required")
	}
	p, err := NewProcessor(opts...)
	if err != nil {
		return nil, err
	}
	p.fetcher = ObjectStoreFetcher{Storage: store}
	p.emitter = ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix}
	return p, nil
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
