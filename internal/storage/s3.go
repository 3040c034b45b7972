package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/s3pipe/internal/config"
)

// probeRegion is the region used for the bucket region lookup.
const probeRegion = "us-east-1"

// S3API defines the subset of the AWS S3 client interface the target uses.
// It covers manager.UploadAPIClient so the streaming uploader can run over a
// mock in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Target writes one object to Amazon S3 or an S3-compatible service.
type S3Target struct {
	// Bucket is the destination bucket.
	Bucket string
	// Key is the destination object key.
	Key string
	// Region is the bucket region, configured or detected.
	Region string

	opts     ObjectOptions
	client   S3API
	uploader *manager.Uploader
}

// NewS3Target creates an S3 client for cfg. Credentials come from cfg when
// set and from the default AWS chain otherwise. An empty region is resolved
// with one HeadBucket request.
func NewS3Target(ctx context.Context, cfg *config.Transfer, logger *slog.Logger) (*S3Target, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	// Use static credentials if provided, otherwise fall back to default chain.
	creds := cfg.Credentials
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	} else if creds.File != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedCredentialsFiles([]string{creds.File}))
	}

	if customTLS(cfg) {
		hc, err := newHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(hc))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if ep := endpointURL(cfg); ep != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		})
	}
	if !cfg.SignPayload {
		s3Opts = append(s3Opts, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	}

	switch {
	case cfg.Region != "":
	case cfg.Endpoint != "":
		if awsCfg.Region == "" {
			awsCfg.Region = probeRegion
		}
	default:
		region, err := detectRegion(ctx, awsCfg, cfg.Bucket, s3Opts)
		if err != nil {
			return nil, err
		}
		awsCfg.Region = region
		logger.Info("Detected bucket region", "bucket", cfg.Bucket, "region", region)
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	t := NewS3TargetWithClient(cfg.Bucket, cfg.Key, cfg.PartSize, objectOptions(cfg), client)
	t.Region = awsCfg.Region
	return t, nil
}

// detectRegion asks S3 which region bucket lives in.
func detectRegion(ctx context.Context, awsCfg aws.Config, bucket string, s3Opts []func(*s3.Options)) (string, error) {
	probeCfg := awsCfg.Copy()
	if probeCfg.Region == "" {
		probeCfg.Region = probeRegion
	}
	probe := s3.NewFromConfig(probeCfg, s3Opts...)
	region, err := manager.GetBucketRegion(ctx, probe, bucket)
	if err != nil {
		return "", fmt.Errorf("detecting region of bucket %q: %w", bucket, err)
	}
	return region, nil
}

// NewS3TargetWithClient creates an S3Target over a pre-configured client.
// This is primarily used for testing with mock clients.
func NewS3TargetWithClient(bucket, key string, partSize int, opts ObjectOptions, client S3API) *S3Target {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = int64(partSize)
		// Parts are strictly sequential.
		u.Concurrency = 1
		u.LeavePartsOnError = false
	})
	return &S3Target{
		Bucket:   bucket,
		Key:      key,
		opts:     opts,
		client:   client,
		uploader: uploader,
	}
}

// Name implements Target.
func (t *S3Target) Name() string {
	return config.FormatLocation(config.ProviderS3, t.Bucket, t.Key)
}

// MinPartSize implements Target. S3 rejects non-final parts below 5 MiB.
func (t *S3Target) MinPartSize() int {
	return int(manager.MinUploadPartSize)
}

// PutObject implements Target.
func (t *S3Target) PutObject(ctx context.Context, data []byte) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.Bucket),
		Key:           aws.String(t.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           types.ObjectCannedACL(t.opts.ACL),
		ContentType:   optionalString(t.opts.ContentType),
		Metadata:      t.opts.Metadata,
	})
	if err != nil {
		return wrapS3Error("uploading object", err)
	}
	return nil
}

// CreateUpload implements Target.
func (t *S3Target) CreateUpload(ctx context.Context) (string, error) {
	resp, err := t.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(t.Bucket),
		Key:         aws.String(t.Key),
		ACL:         types.ObjectCannedACL(t.opts.ACL),
		ContentType: optionalString(t.opts.ContentType),
		Metadata:    t.opts.Metadata,
	})
	if err != nil {
		return "", wrapS3Error("creating multipart upload", err)
	}
	return aws.ToString(resp.UploadId), nil
}

// UploadPart implements Target.
func (t *S3Target) UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	resp, err := t.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(t.Bucket),
		Key:           aws.String(t.Key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return CompletedPart{}, wrapS3Error(fmt.Sprintf("uploading part %d", partNumber), err)
	}
	return CompletedPart{
		Number: partNumber,
		ETag:   aws.ToString(resp.ETag),
		Size:   len(data),
	}, nil
}

// CompleteUpload implements Target.
func (t *S3Target) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}
	_, err := t.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(t.Bucket),
		Key:             aws.String(t.Key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return wrapS3Error("completing multipart upload", err)
	}
	return nil
}

// UploadStream implements Target using the S3 transfer manager.
func (t *S3Target) UploadStream(ctx context.Context, r io.Reader) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.Bucket),
		Key:         aws.String(t.Key),
		Body:        r,
		ACL:         types.ObjectCannedACL(t.opts.ACL),
		ContentType: optionalString(t.opts.ContentType),
		Metadata:    t.opts.Metadata,
	})
	if err != nil {
		return wrapS3Error("streaming upload", err)
	}
	return nil
}

// Close implements Target. The SDK client holds no resources to release.
func (t *S3Target) Close() error {
	return nil
}

// wrapS3Error annotates err with op and, for service errors, the S3 code.
func wrapS3Error(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s (%s): %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// Ensure S3Target implements Target at compile time.
var _ Target = (*S3Target)(nil)
