// Package chunk reshapes irregular pipeline writes into fixed-size parts.
//
// An Accumulator owns one buffer of Capacity bytes. Append copies input into
// the buffer and hands every full buffer to the emit callback; Flush hands
// over whatever is left. Concatenating the emitted parts in order always
// reproduces the appended bytes, and every part except the one produced by
// Flush is exactly Capacity bytes long.
package chunk

import (
	"context"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// EmitFunc receives one part. The slice aliases the accumulator buffer and
// is only valid until the call returns; implementations that keep the bytes
// must copy them.
type EmitFunc func(ctx context.Context, part []byte) error

// Accumulator is a fixed-capacity part buffer. It is not safe for
// concurrent use; the owning coordinator serializes all calls.
type Accumulator struct {
	buf      []byte
	filled   int
	written  int64
	parts    int
	emit     EmitFunc
	released bool
}

// New allocates an accumulator of the given capacity. The capacity must be
// at least floor, the smallest part the storage provider accepts.
func New(capacity, floor int, emit EmitFunc) (*Accumulator, error) {
	if capacity <= 0 || capacity < floor {
		return nil, s3err.ErrConfig.WithMessage("part size %d is below the provider minimum of %d bytes", capacity, floor)
	}
	if emit == nil {
		return nil, s3err.ErrConfig.WithMessage("no part consumer configured")
	}
	return &Accumulator{
		buf:  make([]byte, capacity),
		emit: emit,
	}, nil
}

// Append copies data into the buffer, emitting a part each time the buffer
// fills. A single call may emit several parts. If an emission fails Append
// returns immediately; the bytes of the failed part are dropped and the
// remaining input is not consumed.
func (a *Accumulator) Append(ctx context.Context, data []byte) error {
	if a.released {
		return s3err.ErrNotStarted.WithMessage("accumulator released")
	}
	for len(data) > 0 {
		n := copy(a.buf[a.filled:], data)
		a.filled += n
		a.written += int64(n)
		data = data[n:]

		if a.filled == len(a.buf) {
			if err := a.emitFilled(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush emits the buffered bytes as one part. It is a no-op when the buffer
// is empty or has been released.
func (a *Accumulator) Flush(ctx context.Context) error {
	if a.released || a.filled == 0 {
		return nil
	}
	return a.emitFilled(ctx)
}

func (a *Accumulator) emitFilled(ctx context.Context) error {
	part := a.buf[:a.filled]
	a.filled = 0
	if err := a.emit(ctx, part); err != nil {
		return err
	}
	a.parts++
	return nil
}

// Release drops the buffer. It is safe to call more than once.
func (a *Accumulator) Release() {
	a.buf = nil
	a.filled = 0
	a.released = true
}

// Capacity returns the part size, or 0 once released.
func (a *Accumulator) Capacity() int {
	return cap(a.buf)
}

// Filled returns the number of buffered bytes not yet emitted.
func (a *Accumulator) Filled() int {
	return a.filled
}

// Written returns the total number of bytes accepted by Append.
func (a *Accumulator) Written() int64 {
	return a.written
}

// Parts returns the number of parts emitted successfully.
func (a *Accumulator) Parts() int {
	return a.parts
}
