package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/shrinky/internal/codec"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
	"github.com/dunamismax/shrinky/internal/raster"
	"github.com/dunamismax/shrinky/internal/selector"
)

func TestLocalProcessor_FileInConvertFileOut(t *testing.T) {
	tmp := t.TempDir()
	inputPath := filepath.Join(tmp, "input.png")
	outputDir := filepath.Join(tmp, "out")

	if err := os.WriteFile(inputPath, buildTestPNG(t, 240, 120), 0o644); err != nil {
		t.Fatalf("write input image: %v", err)
	}

	processor, err := NewLocalProcessor(outputDir)
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:        "job-local-1",
		SourceType:   SourceTypeLocalFile,
		ObjectKey:    inputPath,
		OutputFormat: "jpeg",
		Geometry:     "80x",
	})
	if err != nil {
		t.Fatalf("process request: %v", err)
	}

	if want := filepath.Join(outputDir, "job-local-1", "input.jpg"); result.Path != want {
		t.Fatalf("expected output at %s, got %s", want, result.Path)
	}
	if result.Conversion.Output.Format != format.JPG {
		t.Fatalf("expected JPG output, got %s", result.Conversion.Output.Format)
	}
	if result.Conversion.Target != (geometry.Dimensions{Width: 80, Height: 40}) {
		t.Fatalf("expected 80x40 target, got %s", result.Conversion.Target)
	}
	verifyImageWidth(t, result.Path, 80)

	jr := result.JobResult()
	if jr.SourceWidth != 240 || jr.Width != 80 || jr.Auto {
		t.Fatalf("unexpected job result %+v", jr)
	}
}

func TestLocalProcessor_UnsupportedSourceType(t *testing.T) {
	processor, err := NewLocalProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("new local processor: %v", err)
	}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-unsupported",
		SourceType: SourceTypeObjectStore,
		ObjectKey:  "uploads/job/source.png",
	})
	if !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestProcessRejectsBadPlanBeforeFetch(t *testing.T) {
	processor, err := NewProcessor()
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	fetcher := &countingFetcher{}
	processor.fetcher = fetcher
	processor.emitter = discardEmitter{}

	_, err = processor.Process(context.Background(), Request{
		JobID:      "job-bad-geometry",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "in.png",
		Geometry:   "0x0",
	})
	if !errors.Is(err, geometry.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("fetch must not run when the plan is invalid")
	}
}

func TestConvertAutoPicksSmallest(t *testing.T) {
	enc := fixedSizeEncoder{sizes: map[format.Format]int{
		format.JPG:  900,
		format.PNG:  400,
		format.WEBP: 400,
		format.AVIF: 700,
	}}
	processor, err := NewProcessor(WithEncoder(enc))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	conv, err := processor.Convert(context.Background(), buildTestPNG(t, 32, 32), format.PNG, AutoPlan())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if conv.Output.Format != format.PNG {
		t.Fatalf("expected PNG to win the tie, got %s", conv.Output.Format)
	}
	if !conv.Auto {
		t.Fatal("expected auto conversion")
	}
}

func TestConvertAllFormatsFailed(t *testing.T) {
	processor, err := NewProcessor(WithEncoder(fixedSizeEncoder{}))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	_, err = processor.Convert(context.Background(), buildTestPNG(t, 8, 8), format.PNG, AutoPlan())
	if !errors.Is(err, selector.ErrAllFormatsFailed) {
		t.Fatalf("expected ErrAllFormatsFailed, got %v", err)
	}
}

func TestConvertExplicitFormatErrorSurfaces(t *testing.T) {
	processor, err := NewProcessor(WithEncoder(fixedSizeEncoder{}))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	_, err = processor.Convert(context.Background(), buildTestPNG(t, 8, 8), format.PNG, Plan{Output: format.HEIC})
	var encErr *codec.EncodeError
	if !errors.As(err, &encErr) || encErr.Format != format.HEIC {
		t.Fatalf("expected HEIC EncodeError, got %v", err)
	}
}

func TestConvertRealEncoderRoundTrip(t *testing.T) {
	processor, err := NewProcessor()
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	spec := geometry.Spec{Height: 60}
	conv, err := processor.Convert(context.Background(), buildTestPNG(t, 240, 120), format.PNG, Plan{Output: format.PNG, Geometry: &spec})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if conv.Target != (geometry.Dimensions{Width: 120, Height: 60}) {
		t.Fatalf("expected 120x60, got %s", conv.Target)
	}
	decoded, err := raster.Decode(conv.Output.Data, format.PNG)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if decoded.Dimensions() != conv.Target {
		t.Fatalf("expected output %s, got %s", conv.Target, decoded.Dimensions())
	}
}

func TestConvertDecodeFailure(t *testing.T) {
	processor, err := NewProcessor()
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	if _, err := processor.Convert(context.Background(), []byte("not an image"), format.JPG, AutoPlan()); !errors.Is(err, raster.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	spec := geometry.Spec{Width: 1234}
	data := buildTestPNG(t, 450, 800)

	info, err := Inspect(data, format.PNG, &spec)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Source != (geometry.Dimensions{Width: 450, Height: 800}) {
		t.Fatalf("unexpected source %s", info.Source)
	}
	if info.Target != (geometry.Dimensions{Width: 1234, Height: 2194}) {
		t.Fatalf("unexpected target %s", info.Target)
	}
	if info.Bytes != len(data) {
		t.Fatalf("expected %d bytes, got %d", len(data), info.Bytes)
	}

	info, err = Inspect(data, format.PNG, nil)
	if err != nil {
		t.Fatalf("inspect without geometry: %v", err)
	}
	if info.Target != info.Source {
		t.Fatalf("expected target to equal source, got %s", info.Target)
	}
}

func TestObjectStoreStages(t *testing.T) {
	store := newMemoryObjectStore()
	store.objects["uploads/cat.png"] = buildTestPNG(t, 64, 32)

	processor, err := NewObjectStoreProcessor(store, "")
	if err != nil {
		t.Fatalf("new object store processor: %v", err)
	}

	result, err := processor.Process(context.Background(), Request{
		JobID:        "job-obj",
		SourceType:   SourceTypeObjectStore,
		ObjectKey:    "uploads/cat.png",
		OutputFormat: "png",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Path != "outputs/job-obj/cat.png" {
		t.Fatalf("unexpected object key %s", result.Path)
	}
	if _, ok := store.objects[result.Path]; !ok {
		t.Fatal("expected output object to be written")
	}
	if store.contentTypes[result.Path] != "image/png" {
		t.Fatalf("unexpected content type %q", store.contentTypes[result.Path])
	}

	if _, err := processor.Process(context.Background(), Request{
		JobID:      "job-local",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "uploads/cat.png",
	}); !errors.Is(err, ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
}

func TestOutputName(t *testing.T) {
	if got := outputName("uploads/my photo.jpeg", format.WEBP); got != "my_photo.webp" {
		t.Fatalf("unexpected output name %q", got)
	}
	if !strings.HasSuffix(outputName("", format.JPG), ".jpg") {
		t.Fatal("expected jpg suffix for empty key")
	}
}

type countingFetcher struct {
	calls int
}

func (f *countingFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	f.calls++
	return nil, errors.New("unexpected fetch")
}

type fixedSizeEncoder struct {
	sizes map[format.Format]int
}

func (e fixedSizeEncoder) Encode(_ *raster.Buffer, f format.Format) (codec.Output, error) {
	n, ok := e.sizes[f]
	if !ok {
		return codec.Output{}, &codec.EncodeError{Format: f, Err: errors.New("not available")}
	}
	return codec.Output{Format: f, Data: make([]byte, n)}, nil
}

type memoryObjectStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (s *memoryObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("missing object")
	}
	return data, nil
}

func (s *memoryObjectStore) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	s.objects[key] = data
	s.contentTypes[key] = contentType
	return nil
}

func (s *memoryObjectStore) ObjectExists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryObjectStore) Close() error {
	return nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func verifyImageWidth(t *testing.T, path string, want int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open image %s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode image %s: %v", path, err)
	}

	if got := img.Bounds().Dx(); got != want {
		t.Fatalf("expected width %d, got %d", want, got)
	}
}
