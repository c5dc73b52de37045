package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is one of the supported output kinds. The numeric order is the
// catalog order used to break ties during auto-selection.
type Format int

const (
	JPG Format = iota
	PNG
	WEBP
	AVIF
	HEIC
	HEIF
)

var ErrUnsupported = errors.New("unsupported image format")

// Params are the fixed encode parameters a format is written with.
// Native formats leave them zero and use library defaults.
type Params struct {
	Quality int
}

type entry struct {
	name      string
	extension string
	mimeType  string
	native    bool
	params    Params
}

// nonNativeQuality is shared by every format routed through the dedicated codec.
const nonNativeQuality = 85

var catalog = [...]entry{
	JPG:  {name: "JPG", extension: "jpg", mimeType: "image/jpeg", native: true},
	PNG:  {name: "PNG", extension: "png", mimeType: "image/png", native: true},
	WEBP: {name: "WEBP", extension: "webp", mimeType: "image/webp", native: true},
	AVIF: {name: "AVIF", extension: "avif", mimeType: "image/avif", params: Params{Quality: nonNativeQuality}},
	HEIC: {name: "HEIC", extension: "heic", mimeType: "image/heic", params: Params{Quality: nonNativeQuality}},
	HEIF: {name: "HEIF", extension: "heif", mimeType: "image/heif", params: Params{Quality: nonNativeQuality}},
}

var aliases = map[string]Format{
	"jpg":  JPG,
	"jpeg": JPG,
	"png":  PNG,
	"webp": WEBP,
	"avif": AVIF,
	"heic": HEIC,
	"heif": HEIF,
}

// All returns every supported format in catalog order.
func All() []Format {
	out := make([]Format, len(catalog))
	for i := range catalog {
		out[i] = Format(i)
	}
	return out
}

// Parse resolves a format name, an extension or a filename. Matching is
// case-insensitive and a value containing a dot is treated as a filename.
func Parse(s string) (Format, error) {
	value := strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndexByte(value, '.'); i >= 0 {
		value = value[i+1:]
	}
	if f, ok := aliases[value]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// FromPath resolves the format of a file from its extension.
func FromPath(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return 0, fmt.Errorf("%w: %q has no extension", ErrUnsupported, path)
	}
	return Parse(ext)
}

func (f Format) Valid() bool {
	return f >= 0 && int(f) < len(catalog)
}

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return catalog[f].name
}

// Extension is the canonical file extension, without the dot.
func (f Format) Extension() string {
	if !f.Valid() {
		return ""
	}
	return catalog[f].extension
}

func (f Format) MIMEType() string {
	if !f.Valid() {
		return "application/octet-stream"
	}
	return catalog[f].mimeType
}

// IsNative reports whether the general-purpose image library can encode f.
func (f Format) IsNative() bool {
	return f.Valid() && catalog[f].native
}

func (f Format) Params() Params {
	if !f.Valid() {
		return Params{}
	}
	return catalog[f].params
}

func (f Format) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, int(f))
	}
	return []byte(catalog[f].extension), nil
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
