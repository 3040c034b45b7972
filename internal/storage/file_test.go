package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileTarget(t *testing.T) (*FileTarget, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	target, err := NewFileTarget(dir, "object.bin")
	if err != nil {
		t.Fatalf("NewFileTarget failed: %v", err)
	}
	return target, dir
}

func TestFilePutObject(t *testing.T) {
	target, dir := newTestFileTarget(t)

	if err := target.PutObject(context.Background(), []byte("file contents")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "object.bin"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "file contents" {
		t.Errorf("file = %q", data)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Join(dir, ".tmp"))
	if len(entries) != 0 {
		t.Errorf("temp files left: %d", len(entries))
	}
}

func TestFileMultipartAssemble(t *testing.T) {
	target, dir := newTestFileTarget(t)
	ctx := context.Background()

	id, err := target.CreateUpload(ctx)
	if err != nil {
		t.Fatalf("CreateUpload failed: %v", err)
	}
	var parts []CompletedPart
	for i, p := range []string{"first|", "second|", "third"} {
		cp, err := target.UploadPart(ctx, id, int32(i+1), []byte(p))
		if err != nil {
			t.Fatalf("UploadPart %d failed: %v", i+1, err)
		}
		if len(cp.ETag) != 32 {
			t.Errorf("ETag %q is not an MD5 hex digest", cp.ETag)
		}
		parts = append(parts, cp)
	}
	if err := target.CompleteUpload(ctx, id, parts); err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "object.bin"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "first|second|third" {
		t.Errorf("file = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, ".multipart")); !os.IsNotExist(err) {
		t.Errorf("part directory still exists: %v", err)
	}
}

func TestFileCompleteMissingPart(t *testing.T) {
	target, dir := newTestFileTarget(t)
	ctx := context.Background()

	id, _ := target.CreateUpload(ctx)
	err := target.CompleteUpload(ctx, id, []CompletedPart{{Number: 1}})
	if err == nil {
		t.Fatal("expected an error for a missing part")
	}
	if _, err := os.Stat(filepath.Join(dir, "object.bin")); !os.IsNotExist(err) {
		t.Error("object was written despite the failure")
	}
}

func TestFileUploadStreamFailureKeepsPreviousObject(t *testing.T) {
	target, dir := newTestFileTarget(t)
	ctx := context.Background()

	if err := target.PutObject(ctx, []byte("old")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	r := io.MultiReader(strings.NewReader("new but partial"), &failingReader{err: errInjected})
	if err := target.UploadStream(ctx, r); !errors.Is(err, errInjected) {
		t.Fatalf("expected the reader failure, got %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "object.bin"))
	if string(data) != "old" {
		t.Errorf("file = %q, want the previous contents", data)
	}
}

func TestFileStreamingBackend(t *testing.T) {
	target, dir := newTestFileTarget(t)
	b, err := NewBackend(VariantStreamingMultipart, target, 16, nil)
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	defer b.Destroy()
	ctx := context.Background()

	for _, p := range []string{"0123456789abcdef", "0123456789abcdef", "tail"} {
		if err := b.TransferPart(ctx, []byte(p)); err != nil {
			t.Fatalf("TransferPart failed: %v", err)
		}
	}
	if err := b.Complete(ctx); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "object.bin"))
	if string(data) != "0123456789abcdef0123456789abcdeftail" {
		t.Errorf("file = %q", data)
	}
}

func TestFileCloseRemovesEmptyTempDir(t *testing.T) {
	target, dir := newTestFileTarget(t)
	if err := target.PutObject(context.Background(), []byte("x")); err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if err := target.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf(".tmp still present after Close: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "object.bin" {
		t.Errorf("directory holds %v, want only object.bin", entries)
	}
}

func TestFileCloseKeepsSharedTempDir(t *testing.T) {
	target, dir := newTestFileTarget(t)
	inFlight := filepath.Join(dir, ".tmp", "tmp-other")
	if err := os.WriteFile(inFlight, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := target.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(inFlight); err != nil {
		t.Errorf("another transfer's temp file was removed: %v", err)
	}
}

func TestFileTargetName(t *testing.T) {
	target, dir := newTestFileTarget(t)
	if want := "file://" + filepath.ToSlash(filepath.Join(dir, "object.bin")); target.Name() != want {
		t.Errorf("Name = %q, want %q", target.Name(), want)
	}
}
