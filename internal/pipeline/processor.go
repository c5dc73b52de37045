package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/domain"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
	"github.com/dunamismax/shrinky/internal/logging"
	"github.com/dunamismax/shrinky/internal/raster"
	"github.com/dunamismax/shrinky/internal/selector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request is one queued conversion.
type Request struct {
	JobID        string
	SourceType   string
	ObjectKey    string
	OutputFormat string
	Geometry     string
}

// Conversion is the in-memory outcome of Convert.
type Conversion struct {
	Output       codec.Output
	Input        format.Format
	Source       geometry.Dimensions
	Target       geometry.Dimensions
	OriginalSize int
	Auto         bool
}

func (c Conversion) Savings() domain.Savings {
	return domain.Savings{Original: int64(c.OriginalSize), Converted: int64(c.Output.Size())}
}

// Info is what Inspect reports without encoding anything.
type Info struct {
	Format format.Format
	Source geometry.Dimensions
	Target geometry.Dimensions
	Bytes  int
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Emitter stores an encoded output and returns where it went.
type Emitter interface {
	Emit(ctx context.Context, req Request, out codec.Output) (string, error)
}

type Processor struct {
	fetcher  Fetcher
	emitter  Emitter
	encoder  codec.Encoder
	selector *selector.Selector
	logger   *log.Logger
	tracer   trace.Tracer
}

type Option func(*options)

type options struct {
	encoder  codec.Encoder
	logger   *log.Logger
	observer selector.Observer
}

func WithEncoder(enc codec.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// WithLogger sets the debug logger used for per-stage detail.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithObserver(obs selector.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// NewProcessor builds a processor without fetch or emit stages, for callers
// that do their own I/O.
func NewProcessor(opts ...Option) (*Processor, error) {
	if err := codec.Startup(); err != nil {
		return nil, fmt.Errorf("start native codec: %w", err)
	}
	raster.RegisterNonNativeHooks()

	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.encoder == nil {
		o.encoder = codec.New()
	}

	selOpts := []selector.Option{selector.WithLogger(o.logger)}
	if o.observer != nil {
		selOpts = append(selOpts, selector.WithObserver(o.observer))
	}

	return &Processor{
		encoder:  o.encoder,
		selector: selector.New(o.encoder, selOpts...),
		logger:   o.logger,
		tracer:   otel.Tracer("shrinky/pipeline"),
	}, nil
}

func NewLocalProcessor(outputDir string, opts ...Option) (*Processor, error) {
	p, err := NewProcessor(opts...)
	if err != nil {
		return nil, err
	}
	p.fetcher = LocalFileFetcher{}
	p.emitter = LocalFileEmitter{OutputDir: outputDir}
	return p, nil
}

// Convert decodes data, resizes it when the plan has a geometry and encodes
// it in the planned format or, in auto mode, in the smallest one.
func (p *Processor) Convert(ctx context.Context, data []byte, in format.Format, plan Plan) (Conversion, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.convert")
	span.SetAttributes(
		attribute.String("image.input_format", in.String()),
		attribute.String("image.plan", plan.String()),
		attribute.Int("image.input_bytes", len(data)),
	)
	defer span.End()

	buf, err := raster.Decode(data, in)
	if err != nil {
		return Conversion{}, err
	}
	conv := Conversion{
		Input:        in,
		Source:       buf.Dimensions(),
		Target:       buf.Dimensions(),
		OriginalSize: len(data),
		Auto:         plan.Auto,
	}
	p.logger.Printf("decoded %s %s", in, conv.Source)

	if plan.Geometry != nil {
		target, err := plan.Geometry.Resolve(conv.Source)
		if err != nil {
			return Conversion{}, err
		}
		buf = raster.Resize(buf, target)
		conv.Target = buf.Dimensions()
		p.logger.Printf("resized %s to %s", conv.Source, conv.Target)
	}

	if plan.Auto {
		conv.Output, err = p.selector.SelectBest(ctx, buf, format.All())
	} else {
		conv.Output, err = p.encoder.Encode(buf, plan.Output)
	}
	if err != nil {
		span.RecordError(err)
		return Conversion{}, err
	}

	span.SetAttributes(
		attribute.String("image.output_format", conv.Output.Format.String()),
		attribute.Int("image.output_bytes", conv.Output.Size()),
	)
	p.logger.Printf("encoded %s %d bytes", conv.Output.Format, conv.Output.Size())
	return conv, nil
}

// Inspect decodes data and reports its dimensions and, when geom is set,
// the dimensions a resize would produce.
func Inspect(data []byte, in format.Format, geom *geometry.Spec) (Info, error) {
	buf, err := raster.Decode(data, in)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Format: in,
		Source: buf.Dimensions(),
		Target: buf.Dimensions(),
		Bytes:  len(data),
	}
	if geom != nil {
		if info.Target, err = geom.Resolve(info.Source); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}

// Result is what Process hands back to the worker.
type Result struct {
	Path       string
	Conversion Conversion
}

func (r Result) JobResult() domain.JobResult {
	c := r.Conversion
	return domain.JobResult{
		Format:        c.Output.Format,
		Path:          r.Path,
		Bytes:         int64(c.Output.Size()),
		OriginalBytes: int64(c.OriginalSize),
		SourceWidth:   c.Source.Width,
		SourceHeight:  c.Source.Height,
		Width:         c.Target.Width,
		Height:        c.Target.Height,
		Auto:          c.Auto,
	}
}

// Process runs fetch, convert and emit for one request.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if p.fetcher == nil || p.emitter == nil {
		return Result{}, errors.New("processor has no fetch or emit stage")
	}

	in, err := format.FromPath(req.ObjectKey)
	if err != nil {
		return Result{}, fmt.Errorf("source format: %w", err)
	}
	plan, err := ParsePlan(req.OutputFormat, req.Geometry)
	if err != nil {
		return Result{}, err
	}

	source, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	conv, err := p.Convert(ctx, source, in, plan)
	if err != nil {
		return Result{}, fmt.Errorf("convert stage plan=%s: %w", plan, err)
	}

	written, err := p.emitter.Emit(ctx, req, conv.Output)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage format=%s: %w", conv.Output.Format, err)
	}

	return Result{Path: written, Conversion: conv}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, out codec.Output) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, outputName(req.ObjectKey, out.Format))
	if err := os.WriteFile(fullPath, out.Data, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func outputName(objectKey string, f format.Format) string {
	base := strings.TrimSuffix(filepath.Base(objectKey), filepath.Ext(objectKey))
	return sanitizePathToken(base) + "." + f.Extension()
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
