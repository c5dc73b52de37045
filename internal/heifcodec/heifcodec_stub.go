//go:build !cgo || noheif

package heifcodec

import "image"

func Available() bool {
	return false
}

func Decode([]byte) (image.Image, error) {
	return nil, ErrUnavailable
}

func Encode(*image.NRGBA, Options) ([]byte, error) {
	return nil, ErrUnavailable
}
