// Package pipeline drives one object transfer from a stream of irregular
// chunks. A Coordinator freezes the transfer configuration at Start, reshapes
// rendered chunks into parts through a chunk.Accumulator and hands each part
// to a storage.Backend. Stop always completes (unless the transfer failed)
// and always releases every resource.
package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bleepstore/s3pipe/internal/chunk"
	"github.com/bleepstore/s3pipe/internal/config"
	s3err "github.com/bleepstore/s3pipe/internal/errors"
	"github.com/bleepstore/s3pipe/internal/journal"
	"github.com/bleepstore/s3pipe/internal/metrics"
	"github.com/bleepstore/s3pipe/internal/storage"
)

// OpenFunc builds the backend for a frozen transfer configuration.
type OpenFunc func(ctx context.Context, cfg *config.Transfer, logger *slog.Logger) (storage.Backend, error)

// EventSink receives events forwarded downstream.
type EventSink func(ctx context.Context, ev Event) error

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithOpener replaces storage.Open as the backend constructor.
func WithOpener(open OpenFunc) Option {
	return func(c *Coordinator) {
		c.open = open
	}
}

// WithJournal records every transfer in j.
func WithJournal(j journal.Journal) Option {
	return func(c *Coordinator) {
		c.journal = j
	}
}

// WithDownstream forwards events to sink after they are handled.
func WithDownstream(sink EventSink) Option {
	return func(c *Coordinator) {
		c.downstream = sink
	}
}

// Coordinator owns one transfer at a time. Its methods must be called from a
// single goroutine.
type Coordinator struct {
	builder    *config.Builder
	logger     *slog.Logger
	open       OpenFunc
	journal    journal.Journal
	downstream EventSink
	now        func() time.Time

	state   State
	cfg     *config.Transfer
	backend storage.Backend
	acc     *chunk.Accumulator
	variant string
	// failed is the first fatal error of the current transfer.
	failed    error
	completed bool
	record    *journal.Record
	id        string
	log       *slog.Logger
}

// New creates a stopped coordinator whose configuration is read from
// builder at Start.
func New(builder *config.Builder, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		builder: builder,
		logger:  logger,
		journal: journal.Nop{},
		now:     time.Now,
		log:     logger,
	}
	c.open = func(ctx context.Context, cfg *config.Transfer, logger *slog.Logger) (storage.Backend, error) {
		return storage.Open(ctx, cfg, logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the builder holding the transfer properties.
func (c *Coordinator) Config() *config.Builder {
	return c.builder
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	return c.state
}

// Err returns the fatal error of the current or last transfer, if any.
func (c *Coordinator) Err() error {
	return c.failed
}

// Start freezes the configuration, opens the backend and allocates the part
// buffer. On failure everything built so far is torn down, the
// configuration is writable again and the coordinator stays stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.state != StateStopped {
		return s3err.ErrConfig.WithMessage("transfer already %s", c.state)
	}
	c.state = StateStarting
	c.failed = nil
	c.completed = false
	c.id = ""

	cfg, err := c.builder.Freeze()
	if err != nil {
		c.state = StateStopped
		c.logger.Error("Invalid transfer configuration", "error", err)
		return err
	}
	c.cfg = cfg
	c.variant = storage.SelectVariant(cfg).String()

	id := uuid.NewString()
	c.id = id
	c.log = c.logger.With("transfer_id", id)

	backend, err := c.open(ctx, cfg, c.log)
	if err != nil {
		return c.abortStart(asBackendInit(err))
	}
	c.backend = backend
	c.variant = backend.Variant().String()

	acc, err := chunk.New(cfg.PartSize, backend.MinPartSize(), c.transferPart)
	if err != nil {
		return c.abortStart(err)
	}
	c.acc = acc

	c.record = &journal.Record{
		ID:          id,
		Destination: cfg.URI(),
		Provider:    string(cfg.Provider),
		Variant:     c.variant,
		State:       journal.StateActive,
		StartedAt:   c.now().UTC(),
	}
	if err := c.journal.Begin(ctx, c.record); err != nil {
		c.log.Warn("Failed to record transfer start", "error", err)
		c.record = nil
	}

	metrics.TransfersActive.Inc()
	c.state = StateStarted
	c.log.Info("Transfer started",
		"destination", cfg.URI(),
		"variant", c.variant,
		"part_size", cfg.PartSize,
	)
	return nil
}

// abortStart undoes a partial Start.
func (c *Coordinator) abortStart(err error) error {
	if c.backend != nil {
		c.backend.Destroy()
		c.backend = nil
	}
	c.builder.Thaw()
	c.cfg = nil
	c.state = StateStopped
	metrics.TransfersTotal.WithLabelValues(c.variant, "init_failed").Inc()
	c.log.Error("Transfer failed to start", "error", err)
	return err
}

// asBackendInit tags err as a BackendInitError unless it already carries a
// transfer error code.
func asBackendInit(err error) error {
	var e *s3err.Error
	if stderrors.As(err, &e) {
		return err
	}
	return s3err.ErrBackendInit.Wrap(err)
}

// transferPart is the accumulator's emit callback.
func (c *Coordinator) transferPart(ctx context.Context, part []byte) error {
	start := c.now()
	err := c.backend.TransferPart(ctx, part)
	metrics.PartDuration.WithLabelValues(c.variant).Observe(c.now().Sub(start).Seconds())
	if err != nil {
		metrics.PartsTotal.WithLabelValues(c.variant, "error").Inc()
		return err
	}
	metrics.PartsTotal.WithLabelValues(c.variant, "success").Inc()
	metrics.PartSize.WithLabelValues(c.variant).Observe(float64(len(part)))
	metrics.BytesTransferredTotal.WithLabelValues(c.variant).Add(float64(len(part)))
	return nil
}

// fail records the first fatal error.
func (c *Coordinator) fail(err error) error {
	if c.failed == nil {
		c.failed = err
		c.log.Error("Transfer failed", "error", err)
	}
	return err
}

// Render feeds one chunk into the transfer. After the first fatal error
// every call returns that error without side effects.
func (c *Coordinator) Render(ctx context.Context, ch Chunk) error {
	if c.state != StateStarted {
		return s3err.ErrNotStarted
	}
	if c.failed != nil {
		return c.failed
	}

	segments, err := ch.Segments()
	if err != nil {
		return c.fail(s3err.ErrMap.Wrap(err))
	}
	for _, seg := range segments {
		if err := c.acc.Append(ctx, seg); err != nil {
			return c.fail(err)
		}
	}
	return nil
}

// Event handles ev and forwards it downstream. End-of-stream flushes the
// buffered bytes first; a flush failure is returned, but the event is still
// forwarded.
func (c *Coordinator) Event(ctx context.Context, ev Event) error {
	var flushErr error
	if ev.Type == EventEOS && c.state == StateStarted && c.failed == nil {
		if err := c.acc.Flush(ctx); err != nil {
			flushErr = c.fail(err)
		}
	}
	if c.downstream != nil {
		if err := c.downstream(ctx, ev); err != nil && flushErr == nil {
			return err
		}
	}
	return flushErr
}

// Stop finishes the transfer: flush and Complete unless the transfer already
// failed, then release the buffer, destroy the backend, reset the counters
// and unfreeze the configuration. It returns the flush or completion error.
// Stop is idempotent and safe after a failed Start.
//
// When an earlier Render or Event already failed, Complete is skipped and
// Stop returns nil: that error was returned once already and stays
// available from Err until the next Start. Callers that ignore Render
// errors must check Err after Stop.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.state != StateStarted {
		return nil
	}

	var result error
	if c.failed == nil {
		if err := c.acc.Flush(ctx); err != nil {
			result = c.fail(err)
		}
	}
	if c.failed == nil && !c.completed {
		if err := c.backend.Complete(ctx); err != nil {
			result = c.fail(err)
		} else {
			c.completed = true
		}
	}

	bytes, parts := c.acc.Written(), c.acc.Parts()
	c.acc.Release()
	c.acc = nil
	c.backend.Destroy()
	c.backend = nil

	outcome := "completed"
	if c.failed != nil {
		outcome = "failed"
	}
	c.finishRecord(ctx, bytes, parts)
	metrics.TransfersActive.Dec()
	metrics.TransfersTotal.WithLabelValues(c.variant, outcome).Inc()
	c.log.Info("Transfer stopped", "outcome", outcome, "bytes", bytes, "parts", parts)

	c.cfg = nil
	c.record = nil
	c.builder.Thaw()
	c.state = StateStopped
	return result
}

func (c *Coordinator) finishRecord(ctx context.Context, bytes int64, parts int) {
	if c.record == nil {
		return
	}
	c.record.State = journal.StateCompleted
	if c.failed != nil {
		c.record.State = journal.StateFailed
		c.record.Error = c.failed.Error()
	}
	c.record.Bytes = bytes
	c.record.Parts = int64(parts)
	c.record.FinishedAt = c.now().UTC()
	// The transfer outcome is recorded even if the caller's context is done.
	if err := c.journal.Finish(context.WithoutCancel(ctx), c.record); err != nil {
		c.log.Warn("Failed to record transfer outcome", "error", err)
	}
}

// Position reports the number of bytes rendered so far. Only byte-based
// formats are answered.
func (c *Coordinator) Position(format Format) (int64, bool) {
	switch format {
	case FormatDefault, FormatBytes:
	default:
		return 0, false
	}
	if c.acc == nil {
		return 0, true
	}
	return c.acc.Written(), true
}

// Seekable reports whether the sink supports seeking. It never does.
func (c *Coordinator) Seekable() bool {
	return false
}

// TransferID returns the id of the running or most recent transfer, or ""
// before the first Start.
func (c *Coordinator) TransferID() string {
	return c.id
}

// DefaultReadSize is the read size Run uses when none is given.
const DefaultReadSize = 64 * 1024

// Run streams r through a full transfer: Start, Render in reads of up to
// readSize bytes, end-of-stream, Stop. Stop runs even when an earlier step
// fails. It returns the number of bytes rendered and the first error.
func (c *Coordinator) Run(ctx context.Context, r io.Reader, readSize int) (int64, error) {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	if err := c.Start(ctx); err != nil {
		return 0, err
	}

	var (
		written int64
		first   error
	)
	buf := make([]byte, readSize)
	for first == nil {
		n, err := r.Read(buf)
		if n > 0 {
			if rerr := c.Render(ctx, Bytes(buf[:n])); rerr != nil {
				first = rerr
				break
			}
			written += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			first = c.fail(s3err.ErrMap.WithMessage("reading input").Wrap(err))
			break
		}
		if err := ctx.Err(); err != nil {
			first = c.fail(s3err.ErrTransfer.WithMessage("transfer cancelled").Wrap(err))
		}
	}

	if first == nil {
		first = c.Event(ctx, Event{Type: EventEOS})
	}
	if err := c.Stop(ctx); err != nil && first == nil {
		first = err
	}
	return written, first
}
