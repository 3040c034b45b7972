package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/bleepstore/s3pipe/internal/config"
)

// maxComposeSources is the GCS limit on the number of source objects per
// Compose call.
const maxComposeSources = 32

// GCSAPI defines the subset of the GCS client the target uses. This allows
// mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given object. A positive chunkSize
	// enables resumable uploads in chunks of that size.
	NewWriter(ctx context.Context, bucket, object string, attrs GCSObjectAttrs, chunkSize int) io.WriteCloser
	// Compose concatenates srcObjects into dstObject.
	Compose(ctx context.Context, bucket, dstObject string, srcObjects []string, attrs GCSObjectAttrs) error
	// Delete deletes the given object.
	Delete(ctx context.Context, bucket, object string) error
	// Close releases the client.
	Close() error
}

// GCSObjectAttrs holds the attributes set on objects written by the target.
type GCSObjectAttrs struct {
	ContentType   string
	Metadata      map[string]string
	PredefinedACL string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, attrs GCSObjectAttrs, chunkSize int) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.Metadata = attrs.Metadata
	w.PredefinedACL = attrs.PredefinedACL
	if chunkSize > 0 {
		w.ChunkSize = chunkSize
	}
	return w
}

func (c *realGCSClient) Compose(ctx context.Context, bucket, dstObject string, srcObjects []string, attrs GCSObjectAttrs) error {
	srcs := make([]*gcs.ObjectHandle, len(srcObjects))
	for i, name := range srcObjects {
		srcs[i] = c.client.Bucket(bucket).Object(name)
	}
	composer := c.client.Bucket(bucket).Object(dstObject).ComposerFrom(srcs...)
	composer.ContentType = attrs.ContentType
	composer.Metadata = attrs.Metadata
	composer.PredefinedACL = attrs.PredefinedACL
	_, err := composer.Run(ctx)
	return err
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Close() error {
	return c.client.Close()
}

// GCSTarget writes one object to Google Cloud Storage. Multipart uploads
// store each part as a temporary object and compose them at completion:
//
//	Parts:  {key}.parts/{upload_id}/{part_number}
type GCSTarget struct {
	// Bucket is the destination bucket.
	Bucket string
	// Key is the destination object name.
	Key string

	attrs    GCSObjectAttrs
	partSize int
	client   GCSAPI
	logger   *slog.Logger
}

// NewGCSTarget creates a GCS client for cfg. Credentials come from
// cfg.Credentials.File or Application Default Credentials. An endpoint
// override without credentials is treated as an emulator and skips
// authentication.
func NewGCSTarget(ctx context.Context, cfg *config.Transfer, logger *slog.Logger) (*GCSTarget, error) {
	var opts []option.ClientOption
	if ep := endpointURL(cfg); ep != "" {
		opts = append(opts, option.WithEndpoint(ep+"/storage/v1/"))
	}

	var authOpts []option.ClientOption
	anonymous := false
	switch {
	case cfg.Credentials.File != "":
		authOpts = append(authOpts, option.WithCredentialsFile(cfg.Credentials.File))
	case cfg.Endpoint != "":
		anonymous = true
		authOpts = append(authOpts, option.WithoutAuthentication())
	}

	if customTLS(cfg) {
		hc, err := newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		if !anonymous {
			rt, err := htransport.NewTransport(ctx, hc.Transport,
				append(authOpts, option.WithScopes(gcs.ScopeReadWrite))...)
			if err != nil {
				return nil, fmt.Errorf("creating authenticated GCS transport: %w", err)
			}
			hc = &http.Client{Transport: rt}
		}
		opts = append(opts, option.WithHTTPClient(hc))
	} else {
		opts = append(opts, authOpts...)
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	logger.Debug("GCS client created", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return NewGCSTargetWithClient(cfg.Bucket, cfg.Key, cfg.PartSize, objectOptions(cfg), &realGCSClient{client: client}, logger), nil
}

// NewGCSTargetWithClient creates a GCSTarget over a pre-configured client.
// This is primarily used for testing with mock clients.
func NewGCSTargetWithClient(bucket, key string, partSize int, opts ObjectOptions, client GCSAPI, logger *slog.Logger) *GCSTarget {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSTarget{
		Bucket: bucket,
		Key:    key,
		attrs: GCSObjectAttrs{
			ContentType:   opts.ContentType,
			Metadata:      opts.Metadata,
			PredefinedACL: opts.ACL,
		},
		partSize: partSize,
		client:   client,
		logger:   logger,
	}
}

// partName maps a multipart part to a temporary GCS object name.
func (t *GCSTarget) partName(uploadID string, partNumber int32) string {
	return fmt.Sprintf("%s.parts/%s/%05d", t.Key, uploadID, partNumber)
}

// Name implements Target.
func (t *GCSTarget) Name() string {
	return config.FormatLocation(config.ProviderGCS, t.Bucket, t.Key)
}

// MinPartSize implements Target. Compose has no lower bound on sources.
func (t *GCSTarget) MinPartSize() int {
	return 0
}

// write uploads data as one object.
func (t *GCSTarget) write(ctx context.Context, object string, data []byte, attrs GCSObjectAttrs) error {
	w := t.client.NewWriter(ctx, t.Bucket, object, attrs, 0)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing GCS upload: %w", err)
	}
	return nil
}

// PutObject implements Target.
func (t *GCSTarget) PutObject(ctx context.Context, data []byte) error {
	return t.write(ctx, t.Key, data, t.attrs)
}

// CreateUpload implements Target. GCS has no upload session for composed
// objects, so the id only namespaces the part objects.
func (t *GCSTarget) CreateUpload(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

// UploadPart implements Target by writing the part as a temporary object.
func (t *GCSTarget) UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	if err := t.write(ctx, t.partName(uploadID, partNumber), data, GCSObjectAttrs{}); err != nil {
		return CompletedPart{}, fmt.Errorf("part %d: %w", partNumber, err)
	}
	return CompletedPart{
		Number: partNumber,
		ETag:   fmt.Sprintf("%x", md5.Sum(data)),
		Size:   len(data),
	}, nil
}

// CompleteUpload implements Target. Parts are composed in batches of 32,
// repeating until a single object remains; the part objects and any
// intermediates are deleted afterwards.
func (t *GCSTarget) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error {
	sources := make([]string, len(parts))
	for i, p := range parts {
		sources[i] = t.partName(uploadID, p.Number)
	}

	intermediates, err := t.chainCompose(ctx, uploadID, sources)
	t.cleanup(ctx, append(sources, intermediates...))
	return err
}

// chainCompose composes sources into the final object. It returns the
// names of intermediate objects it created, even on failure.
func (t *GCSTarget) chainCompose(ctx context.Context, uploadID string, sources []string) ([]string, error) {
	var intermediates []string
	current := sources

	for generation := 0; len(current) > maxComposeSources; generation++ {
		var next []string
		for i := 0; i < len(current); i += maxComposeSources {
			batch := current[i:min(i+maxComposeSources, len(current))]
			if len(batch) == 1 {
				next = append(next, batch[0])
				continue
			}
			name := fmt.Sprintf("%s.parts/%s/compose-%d-%d", t.Key, uploadID, generation, i)
			if err := t.client.Compose(ctx, t.Bucket, name, batch, GCSObjectAttrs{}); err != nil {
				return intermediates, fmt.Errorf("composing intermediate batch (gen=%d, offset=%d): %w", generation, i, err)
			}
			next = append(next, name)
			intermediates = append(intermediates, name)
		}
		current = next
	}

	if err := t.client.Compose(ctx, t.Bucket, t.Key, current, t.attrs); err != nil {
		return intermediates, fmt.Errorf("final compose in GCS: %w", err)
	}
	return intermediates, nil
}

// cleanup deletes temporary objects, logging failures.
func (t *GCSTarget) cleanup(ctx context.Context, names []string) {
	for _, name := range names {
		if err := t.client.Delete(ctx, t.Bucket, name); err != nil {
			t.logger.Warn("Failed to delete temporary GCS object", "object", name, "error", err)
		}
	}
}

// UploadStream implements Target with a resumable upload in part-size
// chunks.
func (t *GCSTarget) UploadStream(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := t.client.NewWriter(ctx, t.Bucket, t.Key, t.attrs, t.partSize)
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close keeps the partial object from being
		// finalized.
		cancel()
		_ = w.Close()
		return fmt.Errorf("streaming to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing GCS stream: %w", err)
	}
	return nil
}

// Close implements Target.
func (t *GCSTarget) Close() error {
	return t.client.Close()
}

// Ensure GCSTarget implements Target at compile time.
var _ Target = (*GCSTarget)(nil)
