package config

import (
	"path"
	"strings"

	s3err "github.com/bleepstore/s3pipe/internal/errors"
)

// schemes maps location URI schemes to providers.
var schemes = map[string]Provider{
	"s3":    ProviderS3,
	"gs":    ProviderGCS,
	"gcs":   ProviderGCS,
	"az":    ProviderAzure,
	"azure": ProviderAzure,
	"file":  ProviderFile,
	"mem":   ProviderMemory,
}

// ParseLocation splits a location URI into provider, bucket and key.
//
//	s3://bucket/key       gs://bucket/key      az://container/blob
//	file:///dir/name      mem://bucket/key
//
// The key is everything after the first slash following the bucket and is
// kept verbatim: it is not URL-decoded, and '#', '?' and '%' are ordinary key
// characters. For file locations the bucket is the parent directory and the
// key is the file name.
func ParseLocation(loc string) (Provider, string, string, error) {
	scheme, rest, ok := strings.Cut(loc, "://")
	if !ok || scheme == "" {
		return "", "", "", s3err.ErrConfig.WithMessage("invalid location %q: missing scheme", loc)
	}
	provider, ok := schemes[strings.ToLower(scheme)]
	if !ok {
		return "", "", "", s3err.ErrConfig.WithMessage("unsupported location scheme %q", scheme)
	}

	var bucket, key string
	if provider == ProviderFile {
		p := path.Clean("/" + rest)
		bucket, key = path.Dir(p), path.Base(p)
		if key == "/" || key == "." {
			key = ""
		}
	} else {
		bucket, key, _ = strings.Cut(rest, "/")
	}
	if bucket == "" || key == "" {
		return "", "", "", s3err.ErrConfig.WithMessage("location %q must name both a bucket and a key", loc)
	}
	return provider, bucket, key, nil
}

// FormatLocation renders provider, bucket and key as a location URI.
func FormatLocation(p Provider, bucket, key string) string {
	switch p {
	case ProviderFile:
		return "file://" + path.Join(bucket, key)
	case ProviderGCS:
		return "gs://" + bucket + "/" + key
	case ProviderAzure:
		return "az://" + bucket + "/" + key
	case ProviderMemory:
		return "mem://" + bucket + "/" + key
	default:
		return "s3://" + bucket + "/" + key
	}
}
