package codec

import (
	"errors"
	"fmt"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/heifcodec"
	"github.com/dunamismax/shrinky/internal/raster"
)

// NonNativeAvailable reports whether this build can encode AVIF, HEIC and
// HEIF.
func NonNativeAvailable() bool {
	return heifcodec.Available()
}

// HeifEncoder writes every non-native format through libheif's AV1 path with
// the format's fixed parameters.
type HeifEncoder struct{}

func (HeifEncoder) Encode(buf *raster.Buffer, f format.Format) (Output, error) {
	if f.IsNative() {
		return Output{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	data, err := heifcodec.Encode(buf.NRGBA(), heifcodec.Options{Quality: f.Params().Quality})
	if err != nil {
		if errors.Is(err, heifcodec.ErrUnavailable) {
			return Output{}, fmt.Errorf("%w: %w", ErrCodecUnavailable, err)
		}
		return Output{}, err
	}
	return Output{Format: f, Data: data}, nil
}
