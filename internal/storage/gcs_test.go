package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bleepstore/s3pipe/internal/logging"
)

// mockGCSClient implements GCSAPI for unit testing.
type mockGCSClient struct {
	mu sync.Mutex
	// objects stores object data keyed by name.
	objects map[string][]byte
	// attrs stores the attributes each object was written with.
	attrs map[string]GCSObjectAttrs
	// composeCalls records the source count of each Compose call.
	composeCalls []int
	// chunkSizes records the chunk size of each writer.
	chunkSizes []int
	// deleteCalls tracks the number of Delete calls.
	deleteCalls int
	// failCompose makes Compose fail.
	failCompose bool
	closed      bool
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{
		objects: make(map[string][]byte),
		attrs:   make(map[string]GCSObjectAttrs),
	}
}

// mockGCSWriter buffers writes and stores the object on Close.
type mockGCSWriter struct {
	ctx    context.Context
	client *mockGCSClient
	name   string
	attrs  GCSObjectAttrs
	buf    bytes.Buffer
}

func (w *mockGCSWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *mockGCSWriter) Close() error {
	// A cancelled context abandons the upload, as the real writer does.
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.client.mu.Lock()
	defer w.client.mu.Unlock()
	w.client.objects[w.name] = w.buf.Bytes()
	w.client.attrs[w.name] = w.attrs
	return nil
}

func (m *mockGCSClient) NewWriter(ctx context.Context, bucket, object string, attrs GCSObjectAttrs, chunkSize int) io.WriteCloser {
	m.mu.Lock()
	m.chunkSizes = append(m.chunkSizes, chunkSize)
	m.mu.Unlock()
	return &mockGCSWriter{ctx: ctx, client: m, name: object, attrs: attrs}
}

func (m *mockGCSClient) Compose(ctx context.Context, bucket, dstObject string, srcObjects []string, attrs GCSObjectAttrs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composeCalls = append(m.composeCalls, len(srcObjects))
	if m.failCompose {
		return errors.New("compose failed")
	}
	if len(srcObjects) > maxComposeSources {
		return fmt.Errorf("too many compose sources: %d", len(srcObjects))
	}
	var buf bytes.Buffer
	for _, src := range srcObjects {
		data, ok := m.objects[src]
		if !ok {
			return fmt.Errorf("object not found: %s", src)
		}
		buf.Write(data)
	}
	m.objects[dstObject] = buf.Bytes()
	m.attrs[dstObject] = attrs
	return nil
}

func (m *mockGCSClient) Delete(ctx context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	delete(m.objects, object)
	return nil
}

func (m *mockGCSClient) Close() error {
	m.closed = true
	return nil
}

func newTestGCSTarget(t *testing.T) (*GCSTarget, *mockGCSClient) {
	t.Helper()
	mock := newMockGCSClient()
	opts := ObjectOptions{ACL: "publicRead", ContentType: "text/plain", Metadata: map[string]string{"k": "v"}}
	return NewGCSTargetWithClient("test-bucket", "logs/out.txt", 1024, opts, mock, logging.Discard()), mock
}

func TestGCSPutObject(t *testing.T) {
	target, mock := newTestGCSTarget(t)

	if err := target.PutObject(context.Background(), []byte("hello gcs")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if got := string(mock.objects["logs/out.txt"]); got != "hello gcs" {
		t.Errorf("object = %q", got)
	}
	want := GCSObjectAttrs{ContentType: "text/plain", Metadata: map[string]string{"k": "v"}, PredefinedACL: "publicRead"}
	if diff := cmp.Diff(want, mock.attrs["logs/out.txt"]); diff != "" {
		t.Errorf("attrs mismatch (-want +got):\n%s", diff)
	}
}

func TestGCSPartName(t *testing.T) {
	target, _ := newTestGCSTarget(t)
	if got := target.partName("abc", 7); got != "logs/out.txt.parts/abc/00007" {
		t.Errorf("partName = %q", got)
	}
}

func TestGCSMultipartComposeAndCleanup(t *testing.T) {
	target, mock := newTestGCSTarget(t)
	b, err := NewBackend(VariantClassicMultipart, target, 1024, logging.Discard())
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	defer b.Destroy()
	ctx := context.Background()

	for _, p := range []string{"one,", "two,", "three"} {
		if err := b.TransferPart(ctx, []byte(p)); err != nil {
			t.Fatalf("TransferPart(%q) failed: %v", p, err)
		}
	}
	if err := b.Complete(ctx); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if got := string(mock.objects["logs/out.txt"]); got != "one,two,three" {
		t.Errorf("object = %q", got)
	}
	if len(mock.objects) != 1 {
		t.Errorf("temporary objects left behind: %d objects", len(mock.objects))
	}
	if mock.attrs["logs/out.txt"].ContentType != "text/plain" {
		t.Errorf("final object lost its content type")
	}
}

func TestGCSChainComposeManyParts(t *testing.T) {
	target, mock := newTestGCSTarget(t)
	ctx := context.Background()

	uploadID, err := target.CreateUpload(ctx)
	if err != nil {
		t.Fatalf("CreateUpload failed: %v", err)
	}

	const n = 65
	var parts []CompletedPart
	var want strings.Builder
	for i := int32(1); i <= n; i++ {
		data := fmt.Sprintf("[%02d]", i)
		want.WriteString(data)
		cp, err := target.UploadPart(ctx, uploadID, i, []byte(data))
		if err != nil {
			t.Fatalf("UploadPart %d failed: %v", i, err)
		}
		parts = append(parts, cp)
	}

	if err := target.CompleteUpload(ctx, uploadID, parts); err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	if got := string(mock.objects["logs/out.txt"]); got != want.String() {
		t.Errorf("object = %q, want %q", got, want.String())
	}
	// 65 parts: batches of 32 and 32 plus one carried part, then a final
	// compose of three.
	if diff := cmp.Diff([]int{32, 32, 3}, mock.composeCalls); diff != "" {
		t.Errorf("compose calls mismatch (-want +got):\n%s", diff)
	}
	if len(mock.objects) != 1 {
		t.Errorf("temporary objects left behind: %d objects", len(mock.objects))
	}
}

func TestGCSCompleteFailureStillCleansUp(t *testing.T) {
	target, mock := newTestGCSTarget(t)
	mock.failCompose = true
	ctx := context.Background()

	uploadID, _ := target.CreateUpload(ctx)
	cp, err := target.UploadPart(ctx, uploadID, 1, []byte("data"))
	if err != nil {
		t.Fatalf("UploadPart failed: %v", err)
	}
	if err := target.CompleteUpload(ctx, uploadID, []CompletedPart{cp}); err == nil {
		t.Fatal("expected CompleteUpload to fail")
	}
	if len(mock.objects) != 0 {
		t.Errorf("part objects left behind: %v", mock.objects)
	}
}

func TestGCSUploadStream(t *testing.T) {
	target, mock := newTestGCSTarget(t)

	if err := target.UploadStream(context.Background(), strings.NewReader("streamed")); err != nil {
		t.Fatalf("UploadStream failed: %v", err)
	}
	if got := string(mock.objects["logs/out.txt"]); got != "streamed" {
		t.Errorf("object = %q", got)
	}
	if diff := cmp.Diff([]int{1024}, mock.chunkSizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestGCSUploadStreamReaderFailure(t *testing.T) {
	target, mock := newTestGCSTarget(t)

	r := io.MultiReader(strings.NewReader("partial"), &failingReader{err: errInjected})
	err := target.UploadStream(context.Background(), r)
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected the reader failure, got %v", err)
	}
	if _, found := mock.objects["logs/out.txt"]; found {
		t.Error("a partial object was finalized")
	}
}

func TestGCSClose(t *testing.T) {
	target, mock := newTestGCSTarget(t)
	if err := target.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !mock.closed {
		t.Error("client was not closed")
	}
}

type failingReader struct {
	err error
}

func (r *failingReader) Read(p []byte) (int, error) {
	return 0, r.err
}
