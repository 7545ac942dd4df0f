package sse

import (
	"context"
	"errors"
	"io"
)

const defaultChunkSize = 4096

// Decoder reassembles events from a byte stream whose chunk boundaries do not
// line up with frame boundaries
type Decoder struct {
	r         io.Reader
	chunkSize int
	buf       []byte
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, chunkSize: defaultChunkSize}
}

// SetChunkSize sets the size of each read. Values below 1 are ignored.
func (d *Decoder) SetChunkSize(n int) {
	if n > 0 {
		d.chunkSize = n
	}
}

// Decode reads until end of stream, dispatching every complete event to h in
// wire order. Reading continues after terminal events. An incomplete trailing
// frame at end of stream is discarded.
//
// If ctx is done the context's error is returned; the caller decides whether
// that is a cancellation. Any other read failure is returned as is.
func (d *Decoder) Decode(ctx context.Context, h Handler) error {
	chunk := make([]byte, d.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)

			var frames []Frame
			var rest []byte
			frames, rest = ScanFrames(d.buf)
			d.buf = append(d.buf[:0], rest...)

			for _, f := range frames {
				if ev, ok := ParseEvent(f); ok {
					Dispatch(h, ev)
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// Decode is shorthand for NewDecoder(r).Decode(ctx, h)
func Decode(ctx context.Context, r io.Reader, h Handler) error {
	return NewDecoder(r).Decode(ctx, h)
}
