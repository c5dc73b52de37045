package codec

import (
	"errors"
	"fmt"

	"github.com/dunamismax/shrinky/internal/format"
	"github.com/dunamismax/shrinky/internal/raster"
)

var (
	ErrEncode            = errors.New("encode image")
	ErrCodecUnavailable  = errors.New("codec unavailable")
	ErrUnsupportedFormat = errors.New("format not handled by this encoder")
)

// Output is one encoded candidate.
type Output struct {
	Format format.Format
	Data   []byte
}

// Size is the payload length in bytes, the only auto-selection criterion.
func (o Output) Size() int {
	return len(o.Data)
}

// Encoder turns a pixel buffer into the bytes of one format. Implementations
// must not modify the buffer: the selector shares it between goroutines.
type Encoder interface {
	Encode(buf *raster.Buffer, f format.Format) (Output, error)
}

type EncodeError struct {
	Format format.Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func (e *EncodeError) Is(target error) bool {
	return target == ErrEncode
}

// Dispatcher routes native formats to the general-purpose backend and the
// rest to the dedicated codec.
type Dispatcher struct {
	Native    Encoder
	NonNative Encoder
}

// New returns the dispatcher wired with this build's backends.
func New() *Dispatcher {
	return &Dispatcher{
		Native:    newNativeEncoder(),
		NonNative: HeifEncoder{},
	}
}

func (d *Dispatcher) Encode(buf *raster.Buffer, f format.Format) (out Output, err error) {
	if !f.Valid() {
		return Output{}, &EncodeError{Format: f, Err: format.ErrUnsupported}
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = Output{}, &EncodeError{Format: f, Err: fmt.Errorf("encoder panic: %v", r)}
		}
	}()

	backend := d.NonNative
	if f.IsNative() {
		backend = d.Native
	}
	if backend == nil {
		return Output{}, &EncodeError{Format: f, Err: ErrCodecUnavailable}
	}

	out, err = backend.Encode(buf, f)
	if err != nil {
		var encErr *EncodeError
		if errors.As(err, &encErr) {
			return Output{}, err
		}
		return Output{}, &EncodeError{Format: f, Err: err}
	}
	if out.Size() == 0 {
		return Output{}, &EncodeError{Format: f, Err: errors.New("encoder produced no data")}
	}
	return out, nil
}
