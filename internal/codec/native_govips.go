//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/raster"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newNativeEncoder() Encoder {
	return govipsEncoder{}
}

// govipsEncoder hands the buffer to libvips through a fast lossless PNG and
// exports with libvips' default parameters.
type govipsEncoder struct{}

var bridgeEncoder = png.Encoder{CompressionLevel: png.BestSpeed}

func (govipsEncoder) Encode(buf *raster.Buffer, f format.Format) (Output, error) {
	if err := Startup(); err != nil {
		return Output{}, err
	}

	var bridge bytes.Buffer
	if err := bridgeEncoder.Encode(&bridge, buf.NRGBA()); err != nil {
		return Output{}, fmt.Errorf("prepare vips input: %w", err)
	}

	img, err := vips.NewImageFromBuffer(bridge.Bytes())
	if err != nil {
		return Output{}, fmt.Errorf("load vips image: %w", err)
	}
	defer img.Close()

	var data []byte
	switch f {
	case format.JPG:
		data, _, err = img.ExportJpeg(vips.NewJpegExportParams())
	case format.PNG:
		data, _, err = img.ExportPng(vips.NewPngExportParams())
	case format.WEBP:
		data, _, err = img.ExportWebp(vips.NewWebpExportParams())
	default:
		return Output{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return Output{}, fmt.Errorf("export %s: %w", f, err)
	}

	return Output{Format: f, Data: data}, nil
}
