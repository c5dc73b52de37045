package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/raster"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var ErrAllFormatsFailed = errors.New("all formats failed to encode")

// AllFormatsFailedError is returned when no candidate survived.
type AllFormatsFailedError struct {
	Failures []error
}

func (e *AllFormatsFailedError) Error() string {
	if len(e.Failures) == 0 {
		return ErrAllFormatsFailed.Error() + ": no candidate formats"
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, err := range e.Failures {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrAllFormatsFailed, strings.Join(msgs, "; "))
}

func (e *AllFormatsFailedError) Unwrap() []error {
	return e.Failures
}

func (e *AllFormatsFailedError) Is(target error) bool {
	return target == ErrAllFormatsFailed
}

// Observer is told about every encode attempt once it finishes.
type Observer interface {
	ObserveEncode(f format.Format, size int, elapsed time.Duration, err error)
}

type Option func(*Selector)

func WithLogger(logger *log.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Selector) {
		s.observer = o
	}
}

// Selector encodes a buffer in every candidate format at once and keeps the
// smallest result.
type Selector struct {
	encoder  codec.Encoder
	logger   *log.Logger
	observer Observer
	tracer   trace.Tracer
}

func New(encoder codec.Encoder, opts ...Option) *Selector {
	s := &Selector{
		encoder: encoder,
		logger:  log.New(io.Discard, "", 0),
		tracer:  otel.Tracer("shrinky/selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type attempt struct {
	out codec.Output
	err error
}

// SelectBest runs one encode per format and waits for all of them. The
// smallest output wins; equal sizes go to the format earliest in catalog
// order, whatever order the attempts finished in.
func (s *Selector) SelectBest(ctx context.Context, buf *raster.Buffer, formats []format.Format) (codec.Output, error) {
	if len(formats) == 0 {
		return codec.Output{}, &AllFormatsFailedError{}
	}

	ctx, span := s.tracer.Start(ctx, "selector.select_best")
	span.SetAttributes(attribute.Int("selector.candidates", len(formats)))
	defer span.End()

	results := make([]attempt, len(formats))

	var g errgroup.Group
	g.SetLimit(len(formats))
	for i, f := range formats {
		g.Go(func() error {
			results[i] = s.try(ctx, buf, f)
			return nil
		})
	}
	_ = g.Wait()

	var (
		best     codec.Output
		found    bool
		failures []error
	)
	for i, res := range results {
		f := formats[i]
		if res.err != nil {
			s.logger.Printf("format %s failed: %v", f, res.err)
			failures = append(failures, res.err)
			continue
		}
		s.logger.Printf("format %s produced %d bytes", f, res.out.Size())
		if !found || res.out.Size() < best.Size() || (res.out.Size() == best.Size() && f < best.Format) {
			best, found = res.out, true
		}
	}

	if !found {
		err := &AllFormatsFailedError{Failures: failures}
		span.RecordError(err)
		span.SetStatus(codes.Error, "all formats failed")
		return codec.Output{}, err
	}

	s.logger.Printf("smallest is %s at %d bytes", best.Format, best.Size())
	span.SetAttributes(
		attribute.String("selector.winner", best.Format.String()),
		attribute.Int("selector.winner_bytes", best.Size()),
	)
	return best, nil
}

func (s *Selector) try(ctx context.Context, buf *raster.Buffer, f format.Format) (res attempt) {
	_, span := s.tracer.Start(ctx, "selector.encode", trace.WithAttributes(attribute.String("image.format", f.String())))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = attempt{err: &codec.EncodeError{Format: f, Err: fmt.Errorf("encoder panic: %v", r)}}
		}
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, "encode failed")
		} else {
			span.SetAttributes(attribute.Int("image.bytes", res.out.Size()))
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveEncode(f, res.out.Size(), time.Since(started), res.err)
		}
	}()

	out, err := s.encoder.Encode(buf, f)
	if err != nil {
		var encErr *codec.EncodeError
		if !errors.As(err, &encErr) {
			err = &codec.EncodeError{Format: f, Err: err}
		}
		return attempt{err: err}
	}
	return attempt{out: out}
}
