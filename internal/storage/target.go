package storage

import (
	"context"
	"io"
	"log/slog"

	"github.com/bleepstore/s3pipe/internal/config"
	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// Target is a provider client bound to one destination object. Backends
// drive it; nothing else in s3pipe talks to a provider directly.
type Target interface {
	// Name returns the destination URI, for logs.
	Name() string

	// PutObject writes the whole object in one request.
	PutObject(ctx context.Context, data []byte) error

	// CreateUpload starts a multipart upload and returns its id.
	CreateUpload(ctx context.Context) (string, error)

	// UploadPart uploads one numbered part. Part numbers start at 1.
	UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error)

	// CompleteUpload assembles the uploaded parts into the object.
	CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error

	// UploadStream reads r until EOF and writes it as the object. It returns
	// the reader's error if reading fails.
	UploadStream(ctx context.Context, r io.Reader) error

	// MinPartSize is the smallest size accepted for any part but the last.
	MinPartSize() int

	// Close releases client resources.
	Close() error
}

// CompletedPart identifies an uploaded part for CompleteUpload.
type CompletedPart struct {
	Number int32
	ETag   string
	Size   int
}

// Option customizes Open.
type Option func(*options)

type options struct {
	memory *MemoryStore
}

// WithMemoryStore sets the store that mem:// destinations write into.
// Without it they use SharedMemoryStore.
func WithMemoryStore(store *MemoryStore) Option {
	return func(o *options) {
		o.memory = store
	}
}

// SharedMemoryStore backs mem:// destinations opened without
// WithMemoryStore.
var SharedMemoryStore = NewMemoryStore(0)

// Open builds the target for cfg's provider and wraps it in the backend
// variant SelectVariant picks. Failures are reported as BackendInitError.
func Open(ctx context.Context, cfg *config.Transfer, logger *slog.Logger, opts ...Option) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := NewTarget(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	v := SelectVariant(cfg)
	b, err := NewBackend(v, target, cfg.PartSize, logger)
	if err != nil {
		target.Close()
		return nil, err
	}
	logger.Info("Storage backend opened",
		"destination", target.Name(),
		"variant", v.String(),
		"part_size", cfg.PartSize,
	)
	return b, nil
}

// NewTarget builds the provider target for cfg.
func NewTarget(ctx context.Context, cfg *config.Transfer, logger *slog.Logger, opts ...Option) (Target, error) {
	o := options{memory: SharedMemoryStore}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		target Target
		err    error
	)
	switch cfg.Provider {
	case config.ProviderS3:
		target, err = NewS3Target(ctx, cfg, logger)
	case config.ProviderGCS:
		target, err = NewGCSTarget(ctx, cfg, logger)
	case config.ProviderAzure:
		target, err = NewAzureTarget(ctx, cfg, logger)
	case config.ProviderFile:
		target, err = NewFileTarget(cfg.Bucket, cfg.Key)
	case config.ProviderMemory:
		target = o.memory.Target(cfg.Bucket, cfg.Key, objectOptions(cfg))
	default:
		return nil, s3err.ErrBackendInit.WithMessage("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, s3err.ErrBackendInit.WithMessage("creating %s target for %s", cfg.Provider, cfg.URI()).Wrap(err)
	}
	return target, nil
}

// ObjectOptions carries the per-object attributes a target applies when
// the object is written.
type ObjectOptions struct {
	ACL         string
	ContentType string
	Metadata    map[string]string
}

func objectOptions(cfg *config.Transfer) ObjectOptions {
	return ObjectOptions{
		ACL:         cfg.ACL,
		ContentType: cfg.ContentType,
		Metadata:    cfg.Metadata,
	}
}
