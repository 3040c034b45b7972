package storage

import (
	"bytes"
	"context"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// directBackend buffers every part and writes the object with a single
// PutObject at Complete.
type directBackend struct {
	session
	buf bytes.Buffer
}

func (b *directBackend) Variant() Variant {
	return VariantDirect
}

func (b *directBackend) TransferPart(ctx context.Context, part []byte) error {
	if err := b.admit(part); err != nil {
		return err
	}
	b.state = StateActive
	if b.buf.Len()+len(part) > b.partSize && b.buf.Len() <= b.partSize {
		b.logger.Warn("Direct transfer is larger than one part, consider the multipart strategy",
			"buffered", b.buf.Len()+len(part), "part_size", b.partSize)
	}
	b.buf.Write(part)
	b.accept(part)
	return nil
}

func (b *directBackend) Complete(ctx context.Context) error {
	if err := b.checkComplete(); err != nil {
		return err
	}
	if err := b.target.PutObject(ctx, b.buf.Bytes()); err != nil {
		return b.abort(s3err.ErrCompletion.WithMessage("uploading %d bytes", b.buf.Len()), err)
	}
	b.finish()
	return nil
}

func (b *directBackend) Destroy() {
	b.buf = bytes.Buffer{}
	b.closeTarget()
}
