package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bleepstore/s3pipe/internal/config"
	s3err "github.com/bleepstore/s3pipe/internal/errors"
	"github.com/bleepstore/s3pipe/internal/pipeline"
)

// metaHeaderPrefix is the canonical form of "x-amz-meta-" as produced by
// Go's textproto.CanonicalMIMEHeaderKey. Matching request headers become
// object metadata.
const metaHeaderPrefix = "X-Amz-Meta-"

// StreamResponse is the JSON body returned for a finished stream.
type StreamResponse struct {
	TransferID  string `json:"transfer_id"`
	Destination string `json:"destination"`
	Bytes       int64  `json:"bytes"`
}

// ErrorResponse is the JSON body returned when a stream fails.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	TransferID string `json:"transfer_id,omitempty"`
}

// destinationProps are taken from the request path and may not be set
// through query parameters.
var destinationProps = map[string]bool{
	"bucket":   true,
	"key":      true,
	"location": true,
}

// putStream runs one transfer whose data is the request body.
func (s *Server) putStream(w http.ResponseWriter, r *http.Request) {
	bucket, err := pathParam(r, "bucket")
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	key, err := pathParam(r, "*")
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, s3err.ErrConfig.WithMessage("No bucket or key specified for writing"), "")
		return
	}

	builder, err := s.streamConfig(r, bucket, key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	logger := s.logger.With("remote_addr", r.RemoteAddr, "request_id", w.Header().Get(requestIDHeader))
	opts := []pipeline.Option{pipeline.WithJournal(s.journal)}
	if s.open != nil {
		opts = append(opts, pipeline.WithOpener(s.open))
	}
	coord := pipeline.New(builder, logger, opts...)

	n, err := coord.Run(r.Context(), r.Body, s.cfg.Server.ReadChunkSize)
	if err != nil {
		writeError(w, statusFor(err), err, coord.TransferID())
		return
	}

	snap := builder.Snapshot()
	writeJSON(w, http.StatusCreated, StreamResponse{
		TransferID:  coord.TransferID(),
		Destination: config.FormatLocation(snap.Provider, bucket, key),
		Bytes:       n,
	})
}

// pathParam returns the decoded route parameter name. chi matches on
// RawPath when the request carries one, leaving parameters escaped.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return "", s3err.ErrConfig.WithMessage("invalid escape in %q", v).Wrap(err)
	}
	return decoded, nil
}

// streamConfig builds the transfer properties for one request: configured
// defaults, then the destination from the path, then query parameters and
// request headers.
func (s *Server) streamConfig(r *http.Request, bucket, key string) (*config.Builder, error) {
	builder := config.NewBuilder(s.logger)
	if err := builder.SetAll(s.cfg.Transfer); err != nil {
		return nil, err
	}
	if err := builder.SetLocation(""); err != nil {
		return nil, err
	}
	if err := builder.SetBucket(bucket); err != nil {
		return nil, err
	}
	if err := builder.SetKey(key); err != nil {
		return nil, err
	}

	props := make(map[string]string)
	for name := range r.URL.Query() {
		if destinationProps[name] {
			return nil, s3err.ErrConfig.WithMessage("%q is taken from the request path", name)
		}
		props[name] = r.URL.Query().Get(name)
	}
	if _, ok := props["content-type"]; !ok {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			props["content-type"] = ct
		}
	}
	for name, values := range r.Header {
		if md, ok := strings.CutPrefix(name, metaHeaderPrefix); ok && len(values) > 0 {
			props["metadata."+strings.ToLower(md)] = values[0]
		}
	}
	if err := builder.SetAll(props); err != nil {
		return nil, err
	}

	if _, ok := props["content-length"]; !ok && r.ContentLength >= 0 {
		if err := builder.SetContentLength(r.ContentLength); err != nil {
			return nil, err
		}
	}
	return builder, nil
}

// statusFor maps a transfer error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, s3err.ErrConfig), errors.Is(err, s3err.ErrConfigFrozen):
		return http.StatusBadRequest
	case errors.Is(err, s3err.ErrMap):
		return http.StatusBadRequest
	case errors.Is(err, s3err.ErrBackendInit),
		errors.Is(err, s3err.ErrTransfer),
		errors.Is(err, s3err.ErrCompletion):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error, transferID string) {
	resp := ErrorResponse{Code: "InternalError", Message: err.Error(), TransferID: transferID}
	var e *s3err.Error
	if errors.As(err, &e) {
		resp.Code = e.Code
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
