//go:build cgo

package codec

import (
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
)

func encodeWebP(w io.Writer, img image.Image) error {
	if err := webp.Encode(w, img, &webp.Options{Quality: webp.DefaulQuality}); err != nil {
		return fmt.Errorf("encode webp: %w", err)
	}
	return nil
}
