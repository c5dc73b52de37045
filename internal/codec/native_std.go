//go:build !govips || !cgo

package codec

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/raster"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func newNativeEncoder() Encoder {
	return stdlibEncoder{}
}

// stdlibEncoder uses the image packages' default parameters.
type stdlibEncoder struct{}

func (stdlibEncoder) Encode(buf *raster.Buffer, f format.Format) (Output, error) {
	img := buf.NRGBA()

	var out bytes.Buffer
	switch f {
	case format.JPG:
		if err := jpeg.Encode(&out, img, nil); err != nil {
			return Output{}, fmt.Errorf("encode jpeg: %w", err)
		}
	case format.PNG:
		if err := png.Encode(&out, img); err != nil {
			return Output{}, fmt.Errorf("encode png: %w", err)
		}
	case format.WEBP:
		if err := encodeWebP(&out, img); err != nil {
			return Output{}, err
		}
	default:
		return Output{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	return Output{Format: f, Data: out.Bytes()}, nil
}
