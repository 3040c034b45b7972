package storage

import (
	"context"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// multipartBackend uploads numbered parts synchronously. The remote upload
// is created lazily with the first part.
type multipartBackend struct {
	session
	uploadID string
	parts    []CompletedPart
}

func (b *multipartBackend) Variant() Variant {
	return VariantClassicMultipart
}

func (b *multipartBackend) TransferPart(ctx context.Context, part []byte) error {
	if err := b.admit(part); err != nil {
		return err
	}
	if b.uploadID == "" {
		id, err := b.target.CreateUpload(ctx)
		if err != nil {
			return b.abort(s3err.ErrTransfer.WithMessage("creating multipart upload"), err)
		}
		b.uploadID = id
		b.state = StateActive
		b.logger.Debug("Multipart upload created", "upload_id", id)
	}

	cp, err := b.target.UploadPart(ctx, b.uploadID, b.next, part)
	if err != nil {
		return b.abort(s3err.ErrTransfer.WithMessage("uploading part %d", b.next), err)
	}
	b.parts = append(b.parts, cp)
	b.accept(part)
	return nil
}

func (b *multipartBackend) Complete(ctx context.Context) error {
	if err := b.checkComplete(); err != nil {
		return err
	}
	if len(b.parts) == 0 {
		if err := b.target.PutObject(ctx, nil); err != nil {
			return b.abort(s3err.ErrCompletion.WithMessage("writing empty object"), err)
		}
		b.finish()
		return nil
	}
	if err := b.target.CompleteUpload(ctx, b.uploadID, b.parts); err != nil {
		return b.abort(s3err.ErrCompletion.WithMessage("completing upload %s with %d parts", b.uploadID, len(b.parts)), err)
	}
	b.finish()
	return nil
}

func (b *multipartBackend) Destroy() {
	if b.state == StateAborted && b.uploadID != "" {
		b.logger.Warn("Multipart upload left incomplete", "upload_id", b.uploadID)
	}
	b.parts = nil
	b.closeTarget()
}
