package storage

import (
	"context"
	"errors"
	"io"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// errDestroyed is delivered to the uploader when the backend is destroyed
// before Complete.
var errDestroyed = errors.New("transfer destroyed before completion")

// streamBackend hands parts to the target's streaming uploader through an
// io.Pipe. The uploader runs in its own goroutine, started with the first
// part; a pipe write returns once the uploader has read the whole part.
//
// The uploader sends a part after reading it, so a failure while uploading
// part N surfaces one call late: from the TransferPart of part N+1, labelled
// with that later part number, or from Complete when N was the last part.
type streamBackend struct {
	session
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
	// result is the uploader outcome, valid once done is closed.
	result error
}

func (b *streamBackend) Variant() Variant {
	return VariantStreamingMultipart
}

// start launches the uploader. Its context is detached from the caller's
// so that it outlives a single TransferPart; Destroy cancels it.
func (b *streamBackend) start(ctx context.Context) {
	pr, pw := io.Pipe()
	upCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.pw = pw
	b.cancel = cancel
	b.done = make(chan struct{})
	b.state = StateActive

	go func() {
		defer close(b.done)
		err := b.target.UploadStream(upCtx, pr)
		// Unblock any pending write if the uploader stopped reading early.
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		b.result = err
	}()
	b.logger.Debug("Streaming uploader started")
}

func (b *streamBackend) TransferPart(ctx context.Context, part []byte) error {
	if err := b.admit(part); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return b.abort(s3err.ErrTransfer.WithMessage("part %d", b.next), err)
	}
	if b.done == nil {
		b.start(ctx)
	}

	if _, err := b.pw.Write(part); err != nil {
		// The uploader has failed; report its own error when available.
		<-b.done
		if b.result != nil {
			err = b.result
		}
		return b.abort(s3err.ErrTransfer.WithMessage("streaming part %d", b.next), err)
	}
	b.accept(part)
	return nil
}

func (b *streamBackend) Complete(ctx context.Context) error {
	if err := b.checkComplete(); err != nil {
		return err
	}
	if b.done == nil {
		if err := b.target.PutObject(ctx, nil); err != nil {
			return b.abort(s3err.ErrCompletion.WithMessage("writing empty object"), err)
		}
		b.finish()
		return nil
	}

	b.pw.Close()
	select {
	case <-b.done:
	case <-ctx.Done():
		return b.abort(s3err.ErrCompletion.WithMessage("waiting for streaming uploader"), ctx.Err())
	}
	if b.result != nil {
		return b.abort(s3err.ErrCompletion.WithMessage("streaming upload"), b.result)
	}
	b.finish()
	return nil
}

func (b *streamBackend) Destroy() {
	if b.done != nil {
		b.pw.CloseWithError(errDestroyed)
		b.cancel()
		<-b.done
	}
	b.closeTarget()
}
