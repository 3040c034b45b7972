// Package storage moves fixed-size parts into object storage.
//
// A Backend is one transfer of one object. It comes in three variants that
// share a single contract:
//
//	Direct              parts are buffered, one PutObject at Complete
//	ClassicMultipart    numbered parts uploaded as they arrive, then completed
//	StreamingMultipart  parts fed into an asynchronous uploader through a pipe
//
// Every variant drives a provider Target (S3, GCS, Azure Blob, local file or
// memory). TransferPart and Complete block until the outcome is known, and
// the first failure moves the backend to StateAborted for good.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bleepstore/s3pipe/internal/config"
	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// Variant identifies a transfer strategy.
type Variant int

const (
	VariantDirect Variant = iota
	VariantClassicMultipart
	VariantStreamingMultipart
)

// String returns the variant name used in logs, metrics and the journal.
func (v Variant) String() string {
	switch v {
	case VariantDirect:
		return "direct"
	case VariantClassicMultipart:
		return "multipart"
	case VariantStreamingMultipart:
		return "stream"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// State is the lifecycle state of a backend. Transitions are one-way:
// Uninitialized → Active → {Completed, Aborted}.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateCompleted
	StateAborted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is a single object transfer. Calls must be serialized by the
// caller; a Backend is owned by exactly one coordinator.
//
// The interface is sealed: the only implementations are the three variants
// in this package.
type Backend interface {
	// TransferPart sends the next part. The part slice is only read during
	// the call. A part shorter than MinPartSize must be the last one; any
	// part after it is rejected.
	TransferPart(ctx context.Context, part []byte) error

	// Complete finalizes the object. Completing a backend that received no
	// parts writes an empty object.
	Complete(ctx context.Context) error

	// Destroy releases every session resource. It never aborts a remote
	// multipart upload and is safe to call more than once.
	Destroy()

	// Variant reports the strategy this backend implements.
	Variant() Variant

	// State reports the current lifecycle state.
	State() State

	// MinPartSize is the smallest part the target accepts for any part but
	// the last.
	MinPartSize() int

	sealed()
}

// NewBackend builds a backend of the given variant over target. The
// backend takes ownership of target and closes it in Destroy.
func NewBackend(v Variant, target Target, partSize int, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := session{
		target:   target,
		partSize: partSize,
		logger:   logger.With("variant", v.String(), "destination", target.Name()),
		next:     1,
	}
	switch v {
	case VariantDirect:
		return &directBackend{session: s}, nil
	case VariantClassicMultipart:
		return &multipartBackend{session: s}, nil
	case VariantStreamingMultipart:
		return &streamBackend{session: s}, nil
	}
	return nil, s3err.ErrBackendInit.WithMessage("unknown transfer variant %d", int(v))
}

// SelectVariant picks the strategy for cfg. An explicit strategy wins;
// otherwise a known length that fits in one part goes direct, a larger
// known length uses classic multipart and an unknown length streams.
func SelectVariant(cfg *config.Transfer) Variant {
	switch cfg.Strategy {
	case config.StrategyDirect:
		return VariantDirect
	case config.StrategyMultipart:
		return VariantClassicMultipart
	case config.StrategyStream:
		return VariantStreamingMultipart
	}
	switch {
	case cfg.ContentLength == config.UnknownLength:
		return VariantStreamingMultipart
	case cfg.ContentLength <= int64(cfg.PartSize):
		return VariantDirect
	default:
		return VariantClassicMultipart
	}
}

// session holds the state shared by every variant: the target, the part
// counter and the short-part bookkeeping.
type session struct {
	target   Target
	partSize int
	logger   *slog.Logger

	state State
	// next is the number the next accepted part will get.
	next int32
	// short is set once a part below MinPartSize has been accepted.
	short     bool
	bytes     int64
	destroyed bool
}

func (s *session) sealed() {}

func (s *session) State() State {
	return s.state
}

func (s *session) MinPartSize() int {
	return s.target.MinPartSize()
}

// admit checks that part may be transferred now.
func (s *session) admit(part []byte) error {
	switch s.state {
	case StateCompleted:
		return s3err.ErrTransfer.WithMessage("transfer already completed")
	case StateAborted:
		return s3err.ErrTransfer.WithMessage("transfer aborted")
	}
	if len(part) == 0 {
		return s3err.ErrTransfer.WithMessage("empty part %d", s.next)
	}
	if s.short {
		return s.abort(s3err.ErrTransfer.WithMessage(
			"part too small: part %d follows a short part of less than %d bytes", s.next, s.MinPartSize()), nil)
	}
	return nil
}

// accept records a successfully transferred part.
func (s *session) accept(part []byte) {
	if len(part) < s.MinPartSize() {
		s.short = true
	}
	s.logger.Debug("Part transferred", "part", s.next, "size", len(part))
	s.next++
	s.bytes += int64(len(part))
}

// checkComplete verifies that Complete may run.
func (s *session) checkComplete() error {
	switch s.state {
	case StateCompleted:
		return s3err.ErrCompletion.WithMessage("transfer already completed")
	case StateAborted:
		return s3err.ErrCompletion.WithMessage("transfer aborted")
	}
	return nil
}

// abort moves the session to StateAborted and returns e with cause.
func (s *session) abort(e *s3err.Error, cause error) error {
	s.state = StateAborted
	if cause != nil {
		e = e.Wrap(cause)
	}
	s.logger.Error("Transfer aborted", "part", s.next, "error", e)
	return e
}

// finish moves the session to StateCompleted.
func (s *session) finish() {
	s.state = StateCompleted
	s.logger.Info("Transfer completed", "parts", s.next-1, "bytes", s.bytes)
}

// closeTarget closes the target once.
func (s *session) closeTarget() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if err := s.target.Close(); err != nil {
		s.logger.Warn("Closing storage target failed", "error", err)
	}
}
