package config

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

const (
	// MinPartSize is the smallest part size accepted for a transfer. It is
	// the S3 lower bound for every part but the last.
	MinPartSize = 5 * 1024 * 1024
	// MaxPartSize is the largest part size accepted for a transfer: the S3
	// limit of 5 GiB, or the largest int on 32-bit platforms.
	MaxPartSize = min(5*1024*1024*1024, math.MaxInt)
	// DefaultPartSize is the part size used when none is configured.
	DefaultPartSize = MinPartSize
	// UnknownLength marks a transfer whose total size is not known up front.
	UnknownLength int64 = -1
)

// Provider names an object-storage provider.
type Provider string

// Supported providers.
const (
	ProviderS3     Provider = "s3"
	ProviderGCS    Provider = "gcs"
	ProviderAzure  Provider = "azure"
	ProviderFile   Provider = "file"
	ProviderMemory Provider = "memory"
)

// Strategy names a transfer strategy.
type Strategy string

// Supported strategies. StrategyAuto picks one from the content length.
const (
	StrategyAuto      Strategy = "auto"
	StrategyDirect    Strategy = "direct"
	StrategyMultipart Strategy = "multipart"
	StrategyStream    Strategy = "stream"
)

// Credentials holds explicit provider credentials. When empty, providers
// fall back to their default credential chains.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// File is a provider credentials file (GCS service account JSON).
	File string
}

// IsZero reports whether no explicit credentials are configured.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Transfer is an immutable snapshot of the configuration for one transfer.
// It is produced by Builder.Freeze and must not be modified by consumers.
type Transfer struct {
	Provider Provider
	Bucket   string
	Key      string
	// Location is the destination URI as configured, if any. When set it
	// takes precedence over Bucket and Key.
	Location    string
	ACL         string
	ContentType string
	CAFile      string
	// Region is the provider region. Empty means autodetect.
	Region      string
	PartSize    int
	Credentials Credentials
	// Endpoint overrides the provider endpoint (host:port).
	Endpoint    string
	UseHTTP     bool
	VerifySSL   bool
	SignPayload bool
	Strategy    Strategy
	// ContentLength is the total stream size, or UnknownLength.
	ContentLength int64
	Metadata      map[string]string
}

// DefaultTransfer returns the configuration every builder starts from.
func DefaultTransfer() Transfer {
	return Transfer{
		Provider:      ProviderS3,
		PartSize:      DefaultPartSize,
		VerifySSL:     true,
		SignPayload:   true,
		Strategy:      StrategyAuto,
		ContentLength: UnknownLength,
	}
}

// URI returns the destination as a location URI.
func (t Transfer) URI() string {
	return FormatLocation(t.Provider, t.Bucket, t.Key)
}

// clone returns a deep copy of t.
func (t Transfer) clone() Transfer {
	cp := t
	cp.Metadata = maps.Clone(t.Metadata)
	return cp
}

// Validate checks that t describes a transfer that can be started and
// resolves Location into Provider, Bucket and Key.
func Validate(t *Transfer) error {
	if t.Location != "" {
		provider, bucket, key, err := ParseLocation(t.Location)
		if err != nil {
			return err
		}
		t.Provider, t.Bucket, t.Key = provider, bucket, key
	}
	if t.Bucket == "" || t.Key == "" {
		return s3err.ErrConfig.WithMessage("No bucket or key specified for writing")
	}
	switch t.Provider {
	case ProviderS3, ProviderGCS, ProviderAzure, ProviderFile, ProviderMemory:
	default:
		return s3err.ErrConfig.WithMessage("unknown provider %q", t.Provider)
	}
	switch t.Strategy {
	case StrategyAuto, StrategyDirect, StrategyMultipart, StrategyStream:
	default:
		return s3err.ErrConfig.WithMessage("unknown strategy %q", t.Strategy)
	}
	if t.PartSize < MinPartSize {
		return s3err.ErrConfig.WithMessage("part size %d is below the minimum of %d bytes", t.PartSize, MinPartSize)
	}
	if t.PartSize > MaxPartSize {
		return s3err.ErrConfig.WithMessage("part size %d exceeds the maximum of %d bytes", t.PartSize, MaxPartSize)
	}
	if t.ContentLength < UnknownLength {
		return s3err.ErrConfig.WithMessage("invalid content length %d", t.ContentLength)
	}
	return nil
}

// Builder accumulates transfer properties while the owning pipeline element
// is stopped. Once frozen, every write is rejected with ErrConfigFrozen and
// the previous value is kept.
type Builder struct {
	mu     sync.Mutex
	cur    Transfer
	frozen bool
	logger *slog.Logger
}

// NewBuilder returns a builder initialized with DefaultTransfer.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cur: DefaultTransfer(), logger: logger}
}

// Freeze validates the current properties and, on success, freezes the
// builder and returns the snapshot. On failure the builder stays writable.
func (b *Builder) Freeze() (*Transfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.cur.clone()
	if err := Validate(&snap); err != nil {
		return nil, err
	}
	b.frozen = true
	return &snap, nil
}

// Thaw makes the builder writable again.
func (b *Builder) Thaw() {
	b.mu.Lock()
	b.frozen = false
	b.mu.Unlock()
}

// Frozen reports whether writes are currently rejected.
func (b *Builder) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Snapshot returns a copy of the current, unvalidated properties.
func (b *Builder) Snapshot() Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur.clone()
}

// update applies fn unless the builder is frozen.
func (b *Builder) update(name string, fn func(t *Transfer) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		b.logger.Warn("Changing a property while streaming is not supported", "property", name)
		return s3err.ErrConfigFrozen.WithMessage("cannot change %q while streaming", name)
	}
	next := b.cur.clone()
	if err := fn(&next); err != nil {
		return err
	}
	b.cur = next
	b.logger.Debug("Property set", "property", name)
	return nil
}

func (b *Builder) setString(name string, dst func(t *Transfer) *string, value string) error {
	return b.update(name, func(t *Transfer) error {
		*dst(t) = value
		return nil
	})
}

// SetBucket sets the destination bucket (ignored when a location is set).
func (b *Builder) SetBucket(v string) error {
	return b.setString("bucket", func(t *Transfer) *string { return &t.Bucket }, v)
}

// SetKey sets the destination key (ignored when a location is set).
func (b *Builder) SetKey(v string) error {
	return b.setString("key", func(t *Transfer) *string { return &t.Key }, v)
}

// SetLocation sets the destination URI. The URI is checked when set.
func (b *Builder) SetLocation(v string) error {
	if v != "" {
		if _, _, _, err := ParseLocation(v); err != nil {
			return err
		}
	}
	return b.setString("location", func(t *Transfer) *string { return &t.Location }, v)
}

// SetACL sets the canned ACL applied to the object.
func (b *Builder) SetACL(v string) error {
	return b.setString("acl", func(t *Transfer) *string { return &t.ACL }, v)
}

// SetContentType sets the object content type.
func (b *Builder) SetContentType(v string) error {
	return b.setString("content-type", func(t *Transfer) *string { return &t.ContentType }, v)
}

// SetCAFile sets the path of a PEM bundle used to verify the endpoint.
func (b *Builder) SetCAFile(v string) error {
	return b.setString("ca-file", func(t *Transfer) *string { return &t.CAFile }, v)
}

// SetRegion sets the provider region. Empty enables autodetection, which
// costs one extra request at start.
func (b *Builder) SetRegion(v string) error {
	return b.setString("region", func(t *Transfer) *string { return &t.Region }, v)
}

// SetEndpoint overrides the provider endpoint (host:port).
func (b *Builder) SetEndpoint(v string) error {
	return b.setString("endpoint", func(t *Transfer) *string { return &t.Endpoint }, v)
}

// SetPartSize sets the part size in bytes. The floor is checked at Freeze
// so that a too-small value is rejected before a transfer starts.
func (b *Builder) SetPartSize(v int) error {
	return b.update("part-size", func(t *Transfer) error {
		t.PartSize = v
		return nil
	})
}

// SetCredentials replaces the explicit credentials.
func (b *Builder) SetCredentials(c Credentials) error {
	return b.update("credentials", func(t *Transfer) error {
		t.Credentials = c
		return nil
	})
}

// SetUseHTTP selects plain HTTP for the endpoint.
func (b *Builder) SetUseHTTP(v bool) error {
	return b.update("use-http", func(t *Transfer) error {
		t.UseHTTP = v
		return nil
	})
}

// SetVerifySSL toggles TLS certificate verification.
func (b *Builder) SetVerifySSL(v bool) error {
	return b.update("verify-ssl", func(t *Transfer) error {
		t.VerifySSL = v
		return nil
	})
}

// SetSignPayload toggles SigV4 payload signing.
func (b *Builder) SetSignPayload(v bool) error {
	return b.update("sign-payload", func(t *Transfer) error {
		t.SignPayload = v
		return nil
	})
}

// SetProvider selects the provider used with bucket and key.
func (b *Builder) SetProvider(p Provider) error {
	return b.update("provider", func(t *Transfer) error {
		t.Provider = p
		return nil
	})
}

// SetStrategy selects the transfer strategy.
func (b *Builder) SetStrategy(s Strategy) error {
	return b.update("strategy", func(t *Transfer) error {
		t.Strategy = s
		return nil
	})
}

// SetContentLength records the known total size, or UnknownLength.
func (b *Builder) SetContentLength(n int64) error {
	return b.update("content-length", func(t *Transfer) error {
		t.ContentLength = n
		return nil
	})
}

// SetMetadata sets one user metadata entry. An empty value removes it.
func (b *Builder) SetMetadata(name, value string) error {
	return b.update("metadata."+name, func(t *Transfer) error {
		if value == "" {
			delete(t.Metadata, name)
			return nil
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata[name] = value
		return nil
	})
}

// Set assigns a property by name from its string form. Names follow the
// element property names; a few short aliases are accepted.
func (b *Builder) Set(name, value string) error {
	if md, ok := strings.CutPrefix(name, "metadata."); ok {
		return b.SetMetadata(md, value)
	}

	switch name {
	case "bucket":
		return b.SetBucket(value)
	case "key":
		return b.SetKey(value)
	case "location":
		return b.SetLocation(value)
	case "acl":
		return b.SetACL(value)
	case "content-type":
		return b.SetContentType(value)
	case "ca-file":
		return b.SetCAFile(value)
	case "region":
		return b.SetRegion(value)
	case "part-size", "buffer-size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return s3err.ErrConfig.WithMessage("invalid %s %q", name, value).Wrap(err)
		}
		return b.SetPartSize(n)
	case "aws-sdk-endpoint", "endpoint":
		return b.SetEndpoint(value)
	case "aws-sdk-use-http", "use-http":
		v, err := parseBool(name, value)
		if err != nil {
			return err
		}
		return b.SetUseHTTP(v)
	case "aws-sdk-verify-ssl", "verify-ssl":
		v, err := parseBool(name, value)
		if err != nil {
			return err
		}
		return b.SetVerifySSL(v)
	case "aws-sdk-s3-sign-payload", "sign-payload":
		v, err := parseBool(name, value)
		if err != nil {
			return err
		}
		return b.SetSignPayload(v)
	case "provider":
		return b.SetProvider(Provider(value))
	case "strategy":
		return b.SetStrategy(Strategy(value))
	case "content-length":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return s3err.ErrConfig.WithMessage("invalid content-length %q", value).Wrap(err)
		}
		return b.SetContentLength(n)
	case "access-key-id", "secret-access-key", "session-token", "credentials-file":
		return b.update(name, func(t *Transfer) error {
			switch name {
			case "access-key-id":
				t.Credentials.AccessKeyID = value
			case "secret-access-key":
				t.Credentials.SecretAccessKey = value
			case "session-token":
				t.Credentials.SessionToken = value
			default:
				t.Credentials.File = value
			}
			return nil
		})
	}
	return s3err.ErrConfig.WithMessage("unknown property %q", name)
}

// SetAll applies props in name order. It stops at the first error.
func (b *Builder) SetAll(props map[string]string) error {
	for _, name := range slices.Sorted(maps.Keys(props)) {
		if err := b.Set(name, props[name]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the string form of a property. Secrets are not readable.
func (b *Builder) Get(name string) (string, error) {
	t := b.Snapshot()
	if md, ok := strings.CutPrefix(name, "metadata."); ok {
		return t.Metadata[md], nil
	}

	switch name {
	case "bucket":
		return t.Bucket, nil
	case "key":
		return t.Key, nil
	case "location":
		return t.Location, nil
	case "acl":
		return t.ACL, nil
	case "content-type":
		return t.ContentType, nil
	case "ca-file":
		return t.CAFile, nil
	case "region":
		return t.Region, nil
	case "part-size", "buffer-size":
		return strconv.Itoa(t.PartSize), nil
	case "aws-sdk-endpoint", "endpoint":
		return t.Endpoint, nil
	case "aws-sdk-use-http", "use-http":
		return strconv.FormatBool(t.UseHTTP), nil
	case "aws-sdk-verify-ssl", "verify-ssl":
		return strconv.FormatBool(t.VerifySSL), nil
	case "aws-sdk-s3-sign-payload", "sign-payload":
		return strconv.FormatBool(t.SignPayload), nil
	case "provider":
		return string(t.Provider), nil
	case "strategy":
		return string(t.Strategy), nil
	case "content-length":
		return strconv.FormatInt(t.ContentLength, 10), nil
	case "access-key-id":
		return t.Credentials.AccessKeyID, nil
	case "credentials-file":
		return t.Credentials.File, nil
	}
	return "", s3err.ErrConfig.WithMessage("unknown or write-only property %q", name)
}

func parseBool(name, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, s3err.ErrConfig.WithMessage("invalid %s %q", name, value).Wrap(err)
	}
	return v, nil
}

// String implements fmt.Stringer without exposing secrets.
func (t Transfer) String() string {
	return fmt.Sprintf("%s (part-size=%d strategy=%s)", t.URI(), t.PartSize, t.Strategy)
}
