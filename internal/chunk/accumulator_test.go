package chunk

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// recorder collects emitted parts, copying them out of the shared buffer.
type recorder struct {
	parts  [][]byte
	failAt int // 1-based emission that fails; 0 never fails
	calls  int
}

func (r *recorder) emit(ctx context.Context, part []byte) error {
	r.calls++
	if r.failAt != 0 && r.calls == r.failAt {
		return s3err.ErrTransfer.WithMessage("part %d rejected", r.calls)
	}
	r.parts = append(r.parts, bytes.Clone(part))
	return nil
}

func (r *recorder) sizes() []int {
	out := make([]int, len(r.parts))
	for i, p := range r.parts {
		out[i] = len(p)
	}
	return out
}

func newTestAccumulator(t *testing.T, capacity int) (*Accumulator, *recorder) {
	t.Helper()
	rec := &recorder{}
	acc, err := New(capacity, 0, rec.emit)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return acc, rec
}

func TestNewRejectsCapacityBelowFloor(t *testing.T) {
	if _, err := New(4, 5, func(context.Context, []byte) error { return nil }); !errors.Is(err, s3err.ErrConfig) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := New(0, 0, func(context.Context, []byte) error { return nil }); !errors.Is(err, s3err.ErrConfig) {
		t.Fatalf("expected ConfigError for zero capacity, got %v", err)
	}
	if _, err := New(10, 0, nil); !errors.Is(err, s3err.ErrConfig) {
		t.Fatalf("expected ConfigError for nil emit, got %v", err)
	}
	acc, err := New(5, 5, func(context.Context, []byte) error { return nil })
	if err != nil {
		t.Fatalf("capacity equal to floor should be accepted: %v", err)
	}
	if acc.Capacity() != 5 {
		t.Errorf("Capacity = %d, want 5", acc.Capacity())
	}
}

func TestAppendAndFlushScenario(t *testing.T) {
	ctx := context.Background()
	acc, rec := newTestAccumulator(t, 10)

	for i := 0; i < 3; i++ {
		if err := acc.Append(ctx, bytes.Repeat([]byte{byte('a' + i)}, 4)); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}
	if got := rec.sizes(); len(got) != 1 || got[0] != 10 {
		t.Fatalf("parts after appends = %v, want [10]", got)
	}
	if acc.Filled() != 2 {
		t.Errorf("Filled = %d, want 2", acc.Filled())
	}

	if err := acc.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := rec.sizes(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("parts after flush = %v, want [10 2]", got)
	}
	if acc.Parts() != 2 || acc.Written() != 12 {
		t.Errorf("Parts = %d, Written = %d, want 2 and 12", acc.Parts(), acc.Written())
	}
	if got := string(bytes.Join(rec.parts, nil)); got != "aaaabbbbcccc" {
		t.Errorf("concatenated parts = %q", got)
	}
}

func TestAppendOversizedInput(t *testing.T) {
	ctx := context.Background()
	acc, rec := newTestAccumulator(t, 10)

	input := make([]byte, 37)
	for i := range input {
		input[i] = byte(i)
	}
	if err := acc.Append(ctx, input); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(rec.parts) != 3 {
		t.Fatalf("emitted %d parts, want 3", len(rec.parts))
	}
	if acc.Filled() != 7 {
		t.Errorf("Filled = %d, want 7", acc.Filled())
	}
	if !bytes.Equal(bytes.Join(rec.parts, nil), input[:30]) {
		t.Error("emitted bytes do not match input prefix")
	}
}

func TestAppendExactMultipleLeavesEmptyBuffer(t *testing.T) {
	acc, rec := newTestAccumulator(t, 8)
	if err := acc.Append(context.Background(), make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
	if len(rec.parts) != 2 || acc.Filled() != 0 {
		t.Errorf("parts = %d, filled = %d, want 2 and 0", len(rec.parts), acc.Filled())
	}
	if err := acc.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.parts) != 2 {
		t.Error("Flush on a drained buffer must not emit")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	acc, rec := newTestAccumulator(t, 10)
	for i := 0; i < 3; i++ {
		if err := acc.Flush(context.Background()); err != nil {
			t.Fatalf("Flush %d failed: %v", i, err)
		}
	}
	if rec.calls != 0 {
		t.Errorf("emit called %d times, want 0", rec.calls)
	}
}

func TestAppendStopsOnEmitFailure(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{failAt: 2}
	acc, err := New(10, 0, rec.emit)
	if err != nil {
		t.Fatal(err)
	}

	err = acc.Append(ctx, make([]byte, 45))
	if !errors.Is(err, s3err.ErrTransfer) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if rec.calls != 2 {
		t.Errorf("emit calls = %d, want 2 (no emission after the failure)", rec.calls)
	}
	if acc.Parts() != 1 {
		t.Errorf("Parts = %d, want 1", acc.Parts())
	}
	if acc.Filled() != 0 {
		t.Errorf("Filled = %d, failed part must not be re-offered", acc.Filled())
	}
	if acc.Written() != 20 {
		t.Errorf("Written = %d, want 20", acc.Written())
	}
}

func TestFlushFailure(t *testing.T) {
	rec := &recorder{failAt: 1}
	acc, _ := New(10, 0, rec.emit)
	acc.Append(context.Background(), []byte("abc"))

	if err := acc.Flush(context.Background()); !errors.Is(err, s3err.ErrTransfer) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if acc.Filled() != 0 {
		t.Errorf("Filled = %d after failed flush", acc.Filled())
	}
	if err := acc.Flush(context.Background()); err != nil {
		t.Errorf("second Flush should be a no-op, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	acc, rec := newTestAccumulator(t, 10)
	acc.Append(context.Background(), []byte("pending"))

	acc.Release()
	acc.Release()

	if acc.Capacity() != 0 || acc.Filled() != 0 {
		t.Errorf("released accumulator still holds a buffer: cap=%d filled=%d", acc.Capacity(), acc.Filled())
	}
	if err := acc.Flush(context.Background()); err != nil {
		t.Errorf("Flush after Release = %v, want nil", err)
	}
	if err := acc.Append(context.Background(), []byte("x")); !errors.Is(err, s3err.ErrNotStarted) {
		t.Errorf("Append after Release = %v, want NotStarted", err)
	}
	if rec.calls != 0 {
		t.Errorf("emit called %d times after release", rec.calls)
	}
}

func TestOrderingProperty(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for _, capacity := range []int{1, 7, 64, 1000} {
		acc, rec := newTestAccumulator(t, capacity)
		var input bytes.Buffer

		for i := 0; i < 200; i++ {
			chunk := make([]byte, rng.Intn(3*capacity+2))
			rng.Read(chunk)
			input.Write(chunk)
			if err := acc.Append(ctx, chunk); err != nil {
				t.Fatalf("capacity %d: Append failed: %v", capacity, err)
			}
		}
		if err := acc.Flush(ctx); err != nil {
			t.Fatalf("capacity %d: Flush failed: %v", capacity, err)
		}

		if !bytes.Equal(bytes.Join(rec.parts, nil), input.Bytes()) {
			t.Fatalf("capacity %d: concatenated parts differ from input", capacity)
		}
		for i, p := range rec.parts[:len(rec.parts)-1] {
			if len(p) != capacity {
				t.Fatalf("capacity %d: part %d has length %d", capacity, i, len(p))
			}
		}
		if acc.Written() != int64(input.Len()) {
			t.Errorf("capacity %d: Written = %d, want %d", capacity, acc.Written(), input.Len())
		}
	}
}
