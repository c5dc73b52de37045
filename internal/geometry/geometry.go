package geometry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalid = errors.New("invalid geometry")

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Spec is a parsed resize request. A zero field means "derive from the
// source aspect ratio"; at least one field is always set.
type Spec struct {
	Width  int
	Height int
}

// Parse accepts "<W>x<H>", "<W>x" and "x<H>".
func Parse(s string) (Spec, error) {
	value := strings.ToLower(strings.TrimSpace(s))
	if value == "" {
		return Spec{}, fmt.Errorf("%w: empty value", ErrInvalid)
	}

	widthPart, heightPart, ok := strings.Cut(value, "x")
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q is missing the x separator", ErrInvalid, s)
	}
	if strings.Contains(heightPart, "x") {
		return Spec{}, fmt.Errorf("%w: %q has too many x characters", ErrInvalid, s)
	}
	if widthPart == "" && heightPart == "" {
		return Spec{}, fmt.Errorf("%w: %q sets neither width nor height", ErrInvalid, s)
	}

	var spec Spec
	var err error
	if widthPart != "" {
		if spec.Width, err = parseSide(widthPart); err != nil {
			return Spec{}, fmt.Errorf("%w: width of %q: %v", ErrInvalid, s, err)
		}
	}
	if heightPart != "" {
		if spec.Height, err = parseSide(heightPart); err != nil {
			return Spec{}, fmt.Errorf("%w: height of %q: %v", ErrInvalid, s, err)
		}
	}
	return spec, nil
}

func parseSide(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not a positive integer", s)
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	if n == 0 {
		return 0, errors.New("must be greater than zero")
	}
	return int(n), nil
}

// Exact reports whether both sides were given, in which case the aspect
// ratio of the source is not preserved.
func (s Spec) Exact() bool {
	return s.Width > 0 && s.Height > 0
}

// Resolve computes the output dimensions for a source image.
func (s Spec) Resolve(src Dimensions) (Dimensions, error) {
	if s.Width <= 0 && s.Height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: neither width nor height set", ErrInvalid)
	}
	if s.Exact() {
		return Dimensions{Width: s.Width, Height: s.Height}, nil
	}
	if !src.Valid() {
		return Dimensions{}, fmt.Errorf("%w: source dimensions %s", ErrInvalid, src)
	}

	var out Dimensions
	if s.Width > 0 {
		out = Dimensions{
			Width:  s.Width,
			Height: scale(s.Width, src.Height, src.Width),
		}
	} else {
		out = Dimensions{
			Width:  scale(s.Height, src.Width, src.Height),
			Height: s.Height,
		}
	}

	if !out.Valid() {
		return Dimensions{}, fmt.Errorf("%w: %s on %s resolves to %s", ErrInvalid, s, src, out)
	}
	return out, nil
}

// scale returns round(n * num / den).
func scale(n, num, den int) int {
	return int(math.Round(float64(n) * float64(num) / float64(den)))
}

func (s Spec) String() string {
	switch {
	case s.Exact():
		return fmt.Sprintf("%dx%d", s.Width, s.Height)
	case s.Width > 0:
		return fmt.Sprintf("%dx", s.Width)
	case s.Height > 0:
		return fmt.Sprintf("x%d", s.Height)
	default:
		return "empty"
	}
}
