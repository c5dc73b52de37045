// Package heifcodec wraps libheif for the formats the general-purpose image
// packages cannot write: AVIF, HEIC and HEIF.
package heifcodec

import "errors"

var ErrUnavailable = errors.New("libheif codec is not available in this build")

// Options controls a single encode call.
type Options struct {
	Quality int
}
