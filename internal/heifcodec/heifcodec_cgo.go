//go:build cgo && !noheif

package heifcodec

import (
	"fmt"
	"image"
	"image/draw"
	"os"
	"runtime"

	libheif "github.com/strukturag/libheif/go/heif"
)

// Available reports whether libheif was linked into this binary.
func Available() bool {
	return true
}

// Decode reads the primary image of a HEIF/AVIF container.
func Decode(data []byte) (img image.Image, err error) {
	defer recoverInto(&err)

	ctx, err := libheif.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create heif context: %w", err)
	}
	if err := ctx.ReadFromMemory(data); err != nil {
		return nil, fmt.Errorf("read heif container: %w", err)
	}

	handle, err := ctx.GetPrimaryImageHandle()
	if err != nil {
		return nil, fmt.Errorf("primary image handle: %w", err)
	}

	decoded, err := handle.DecodeImage(libheif.ColorspaceUndefined, libheif.ChromaUndefined, nil)
	if err != nil {
		return nil, fmt.Errorf("decode heif image: %w", err)
	}

	out, err := decoded.GetImage()
	runtime.KeepAlive(ctx)
	runtime.KeepAlive(handle)
	if err != nil {
		return nil, fmt.Errorf("convert heif image: %w", err)
	}
	return out, nil
}

// Encode writes src as a single-image HEIF container compressed with AV1.
// The same profile serves AVIF, HEIC and HEIF output. Pixels are handed to
// libheif as one interleaved RGBA plane.
func Encode(src *image.NRGBA, opts Options) (data []byte, err error) {
	defer recoverInto(&err)

	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", bounds.Dx(), bounds.Dy())
	}

	ctx, err := libheif.EncodeFromImage(
		toRGBA(src),
		libheif.CompressionAV1,
		opts.Quality,
		libheif.LosslessModeDisabled,
		libheif.LoggingLevelNone,
	)
	if err != nil {
		return nil, fmt.Errorf("encode heif image: %w", err)
	}

	data, err = writeContext(ctx)
	runtime.KeepAlive(ctx)
	return data, err
}

// toRGBA copies src into a zero-origin RGBA image whose stride is exactly
// four bytes per pixel, the layout libheif's interleaved plane expects.
func toRGBA(src *image.NRGBA) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}

// writeContext serialises the container. The binding only writes to files,
// so the bytes go through a scratch file that is always removed.
func writeContext(ctx *libheif.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "shrinky-*.heif")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	if err := ctx.WriteToFile(name); err != nil {
		return nil, fmt.Errorf("write heif container: %w", err)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read heif container: %w", err)
	}
	return data, nil
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("libheif panic: %v", r)
	}
}
