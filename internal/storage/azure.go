package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bleepstore/s3pipe/internal/config"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client the
// target uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBuffer uploads data as a block blob, overwriting any existing blob.
	UploadBuffer(ctx context.Context, containerName, blobName string, data []byte, opts AzureBlobOptions) error
	// StageBlock stages a block on a blob for later commit.
	StageBlock(ctx context.Context, containerName, blobName, blockID string, data []byte) error
	// CommitBlockList commits a list of block IDs to finalize a blob.
	CommitBlockList(ctx context.Context, containerName, blobName string, blockIDs []string, opts AzureBlobOptions) error
	// UploadStream uploads body in blocks of blockSize.
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, blockSize int64, opts AzureBlobOptions) error
}

// AzureBlobOptions holds the blob properties set on commit.
type AzureBlobOptions struct {
	ContentType string
	Metadata    map[string]*string
}

// AzureTarget writes one block blob to Azure Blob Storage. Multipart
// uploads map onto block blob primitives:
//
//	UploadPart()      → StageBlock() on the final blob (no temp objects)
//	CompleteUpload()  → CommitBlockList() to finalize
//
// Uncommitted blocks expire on their own after seven days.
type AzureTarget struct {
	// Container is the destination container.
	Container string
	// Blob is the destination blob name.
	Blob string
	// ServiceURL is the storage account URL.
	ServiceURL string

	opts     AzureBlobOptions
	partSize int
	client   AzureBlobAPI
}

// NewAzureTarget creates an Azure Blob client for cfg. The storage account
// name is taken from access-key-id and the account key, if any, from
// secret-access-key. Without a key the DefaultAzureCredential chain is used.
// An endpoint override is addressed path-style ({endpoint}/{account}) as
// storage emulators expect.
func NewAzureTarget(ctx context.Context, cfg *config.Transfer, logger *slog.Logger) (*AzureTarget, error) {
	account := cfg.Credentials.AccessKeyID
	if account == "" {
		return nil, fmt.Errorf("azure destinations need the storage account name in access-key-id")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	if ep := endpointURL(cfg); ep != "" {
		serviceURL = ep + "/" + account + "/"
	}

	var hc *http.Client
	if customTLS(cfg) {
		var err error
		if hc, err = newHTTPClient(cfg); err != nil {
			return nil, err
		}
	}

	client, err := newRealAzureClient(serviceURL, account, cfg.Credentials.SecretAccessKey, hc)
	if err != nil {
		return nil, err
	}

	logger.Debug("Azure Blob client created", "service_url", serviceURL, "container", cfg.Bucket)
	t := NewAzureTargetWithClient(cfg.Bucket, cfg.Key, cfg.PartSize, objectOptions(cfg), client)
	t.ServiceURL = serviceURL
	return t, nil
}

// NewAzureTargetWithClient creates an AzureTarget over a pre-configured
// client. This is primarily used for testing with mock clients.
func NewAzureTargetWithClient(container, blobName string, partSize int, opts ObjectOptions, client AzureBlobAPI) *AzureTarget {
	var metadata map[string]*string
	if len(opts.Metadata) > 0 {
		metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			metadata[k] = &v
		}
	}
	return &AzureTarget{
		Container: container,
		Blob:      blobName,
		opts:      AzureBlobOptions{ContentType: opts.ContentType, Metadata: metadata},
		partSize:  partSize,
		client:    client,
	}
}

// blockID generates a block ID for Azure staged blocks.
// Block IDs must be base64-encoded and the same length for all blocks
// in a blob. Includes uploadID to avoid collisions between concurrent
// uploads to the same blob.
func blockID(uploadID string, partNumber int32) string {
	return base64.StdEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%s:%05d", uploadID, partNumber)),
	)
}

// Name implements Target.
func (t *AzureTarget) Name() string {
	return config.FormatLocation(config.ProviderAzure, t.Container, t.Blob)
}

// MinPartSize implements Target. Staged blocks have no lower bound.
func (t *AzureTarget) MinPartSize() int {
	return 0
}

// PutObject implements Target.
func (t *AzureTarget) PutObject(ctx context.Context, data []byte) error {
	if err := t.client.UploadBuffer(ctx, t.Container, t.Blob, data, t.opts); err != nil {
		return fmt.Errorf("uploading blob: %w", err)
	}
	return nil
}

// CreateUpload implements Target. Blocks need no server-side session; the
// id keeps block IDs of concurrent uploads apart.
func (t *AzureTarget) CreateUpload(ctx context.Context) (string, error) {
	return uuid.NewString(), nil
}

// UploadPart implements Target by staging a block.
func (t *AzureTarget) UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	id := blockID(uploadID, partNumber)
	if err := t.client.StageBlock(ctx, t.Container, t.Blob, id, data); err != nil {
		return CompletedPart{}, fmt.Errorf("staging block %d: %w", partNumber, err)
	}
	return CompletedPart{Number: partNumber, ETag: id, Size: len(data)}, nil
}

// CompleteUpload implements Target by committing the staged blocks in
// part order.
func (t *AzureTarget) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error {
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = blockID(uploadID, p.Number)
	}
	if err := t.client.CommitBlockList(ctx, t.Container, t.Blob, ids, t.opts); err != nil {
		return fmt.Errorf("committing %d blocks: %w", len(ids), err)
	}
	return nil
}

// UploadStream implements Target with the SDK block uploader.
func (t *AzureTarget) UploadStream(ctx context.Context, r io.Reader) error {
	if err := t.client.UploadStream(ctx, t.Container, t.Blob, r, int64(t.partSize), t.opts); err != nil {
		return fmt.Errorf("streaming blob: %w", err)
	}
	return nil
}

// Close implements Target.
func (t *AzureTarget) Close() error {
	return nil
}

// Ensure AzureTarget implements Target at compile time.
var _ Target = (*AzureTarget)(nil)
