package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/geometry"
	"github.com/dunamismax/shrinky/internal/heifcodec"
	_ "golang.org/x/image/webp"
)

var ErrDecode = errors.New("decode image")

// Buffer owns a decoded image in 8-bit non-premultiplied RGBA. Once handed to
// more than one reader it must be treated as read-only.
type Buffer struct {
	img *image.NRGBA
}

// FromImage copies any image into the buffer layout.
func FromImage(img image.Image) *Buffer {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return &Buffer{img: nrgba}
	}
	return &Buffer{img: imaging.Clone(img)}
}

func (b *Buffer) Dimensions() geometry.Dimensions {
	bounds := b.img.Bounds()
	return geometry.Dimensions{Width: bounds.Dx(), Height: bounds.Dy()}
}

// NRGBA exposes the pixels. Callers must not modify them.
func (b *Buffer) NRGBA() *image.NRGBA {
	return b.img
}

type decodeFunc func(data []byte) (image.Image, error)

var (
	hooksMu   sync.RWMutex
	hooks     = map[format.Format]decodeFunc{}
	hooksOnce sync.Once
)

// RegisterNonNativeHooks installs the dedicated codec as the decoder for every
// non-native format. Safe to call any number of times.
func RegisterNonNativeHooks() {
	hooksOnce.Do(func() {
		hooksMu.Lock()
		defer hooksMu.Unlock()
		for _, f := range format.All() {
			if !f.IsNative() {
				hooks[f] = heifcodec.Decode
			}
		}
	})
}

func hookFor(f format.Format) (decodeFunc, bool) {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	fn, ok := hooks[f]
	return fn, ok
}

// Decode turns encoded bytes into a Buffer. It either returns a complete
// buffer or an error wrapping ErrDecode.
func Decode(data []byte, in format.Format) (buf *Buffer, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if !in.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrDecode, format.ErrUnsupported)
	}

	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %s decoder panic: %v", ErrDecode, in, r)
		}
	}()

	var img image.Image
	if in.IsNative() {
		img, _, err = image.Decode(bytes.NewReader(data))
	} else {
		RegisterNonNativeHooks()
		decode, ok := hookFor(in)
		if !ok {
			return nil, fmt.Errorf("%w: no decoder registered for %s", ErrDecode, in)
		}
		img, err = decode(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, in, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s: empty image %dx%d", ErrDecode, in, bounds.Dx(), bounds.Dy())
	}
	return FromImage(img), nil
}

// Resize resamples to exactly target with a 3-lobe Lanczos filter. A target
// equal to the current size returns b unchanged.
func Resize(b *Buffer, target geometry.Dimensions) *Buffer {
	if b.Dimensions() == target {
		return b
	}
	return &Buffer{img: imaging.Resize(b.img, target.Width, target.Height, imaging.Lanczos)}
}
