package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bleepstore/s3pipe/internal/config"
)

// FileTarget writes one object to the local filesystem. Every write uses
// the crash-only atomic pattern: write to a temp file, fsync, rename.
//
//	Object:  {dir}/{name}
//	Temp:    {dir}/.tmp/tmp-{id}
//	Parts:   {dir}/.multipart/{upload_id}/{part_number}
type FileTarget struct {
	// Dir is the directory the object is written into.
	Dir string
	// FileName is the object file name.
	FileName string
}

// NewFileTarget creates a FileTarget for dir/name. It creates dir and the
// temp directory if they do not exist.
func NewFileTarget(dir, name string) (*FileTarget, error) {
	tmpDir := filepath.Join(dir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &FileTarget{Dir: dir, FileName: name}, nil
}

// objectPath returns the full filesystem path for the object.
func (t *FileTarget) objectPath() string {
	return filepath.Join(t.Dir, t.FileName)
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (t *FileTarget) tempPath() string {
	return filepath.Join(t.Dir, ".tmp", "tmp-"+uuid.NewString())
}

// partDir returns the directory holding the parts of an upload.
func (t *FileTarget) partDir(uploadID string) string {
	return filepath.Join(t.Dir, ".multipart", uploadID)
}

// Name implements Target.
func (t *FileTarget) Name() string {
	return config.FormatLocation(config.ProviderFile, t.Dir, t.FileName)
}

// MinPartSize implements Target.
func (t *FileTarget) MinPartSize() int {
	return 0
}

// writeAtomic copies r into dst through a synced temp file and returns the
// MD5 digest of what was written.
func (t *FileTarget) writeAtomic(dst string, r io.Reader) ([]byte, error) {
	tmpPath := t.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	// Hash while writing via TeeReader.
	h := md5.New()
	if _, err := io.Copy(tmpFile, io.TeeReader(r, h)); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return h.Sum(nil), nil
}

// PutObject implements Target.
func (t *FileTarget) PutObject(ctx context.Context, data []byte) error {
	return t.UploadStream(ctx, bytes.NewReader(data))
}

// CreateUpload implements Target by creating the part directory.
func (t *FileTarget) CreateUpload(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := os.MkdirAll(t.partDir(id), 0o755); err != nil {
		return "", fmt.Errorf("creating part directory: %w", err)
	}
	return id, nil
}

// UploadPart implements Target.
func (t *FileTarget) UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	partPath := filepath.Join(t.partDir(uploadID), fmt.Sprintf("%05d", partNumber))
	sum, err := t.writeAtomic(partPath, bytes.NewReader(data))
	if err != nil {
		return CompletedPart{}, fmt.Errorf("part %d: %w", partNumber, err)
	}
	return CompletedPart{Number: partNumber, ETag: fmt.Sprintf("%x", sum), Size: len(data)}, nil
}

// CompleteUpload implements Target by concatenating the parts in order
// into the object. The part directory is removed afterwards.
func (t *FileTarget) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error {
	partDir := t.partDir(uploadID)
	files := make([]io.Reader, 0, len(parts))
	for _, p := range parts {
		f, err := os.Open(filepath.Join(partDir, fmt.Sprintf("%05d", p.Number)))
		if err != nil {
			closeAll(files)
			return fmt.Errorf("opening part %d: %w", p.Number, err)
		}
		files = append(files, f)
	}

	_, err := t.writeAtomic(t.objectPath(), io.MultiReader(files...))
	closeAll(files)
	if err != nil {
		return fmt.Errorf("assembling parts: %w", err)
	}

	os.RemoveAll(partDir)
	// Best-effort cleanup: remove .multipart dir if empty.
	os.Remove(filepath.Dir(partDir))
	return nil
}

// UploadStream implements Target.
func (t *FileTarget) UploadStream(ctx context.Context, r io.Reader) error {
	if _, err := t.writeAtomic(t.objectPath(), r); err != nil {
		return fmt.Errorf("writing %s: %w", t.objectPath(), err)
	}
	return nil
}

// Close implements Target. Best-effort cleanup: the .tmp directory is
// removed only when empty, since other transfers into Dir may share it.
func (t *FileTarget) Close() error {
	os.Remove(filepath.Join(t.Dir, ".tmp"))
	return nil
}

func closeAll(readers []io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
}

// Ensure FileTarget implements Target at compile time.
var _ Target = (*FileTarget)(nil)
