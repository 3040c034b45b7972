package storage

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bleepstore/s3pipe/internal/config"
)

const (
	httpIdleConnTimeout = 90 * time.Second
	httpMaxIdleConns    = 16
)

// customTLS reports whether cfg needs a transport other than the provider
// SDK default.
func customTLS(cfg *config.Transfer) bool {
	return cfg.CAFile != "" || !cfg.VerifySSL
}

// newHTTPClient returns an HTTP client honoring cfg's CA bundle and
// certificate verification settings.
func newHTTPClient(cfg *config.Transfer) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.VerifySSL,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA file %q", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.MaxIdleConns = httpMaxIdleConns
	transport.MaxIdleConnsPerHost = httpMaxIdleConns
	transport.IdleConnTimeout = httpIdleConnTimeout
	return &http.Client{Transport: transport}, nil
}

// endpointURL renders cfg.Endpoint with the scheme selected by UseHTTP.
func endpointURL(cfg *config.Transfer) string {
	if cfg.Endpoint == "" {
		return ""
	}
	scheme := "https"
	if cfg.UseHTTP {
		scheme = "http"
	}
	return scheme + "://" + cfg.Endpoint
}
