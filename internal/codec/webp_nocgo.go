//go:build !cgo

package codec

import (
	"fmt"
	"image"
	"io"
)

func encodeWebP(io.Writer, image.Image) error {
	return fmt.Errorf("%w: webp encoding requires cgo", ErrCodecUnavailable)
}
