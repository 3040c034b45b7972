package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/bleepstore/s3pipe/internal/config"
)

// MemoryObject is an object held by a MemoryStore.
type MemoryObject struct {
	Data        []byte
	ETag        string
	ContentType string
	Metadata    map[string]string
}

// memUpload holds the parts of an in-progress multipart upload.
type memUpload struct {
	key   string
	parts map[int32][]byte
}

// MemoryStore is an in-memory object store shared by mem:// targets. It is
// safe for concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	objects      map[string]MemoryObject // key: "bucket/key"
	uploads      map[string]*memUpload   // key: upload id
	currentSize  int64
	maxSizeBytes int64
	minPartSize  int
}

// NewMemoryStore creates an empty store. A positive maxSizeBytes caps the
// total size of objects and pending parts.
func NewMemoryStore(maxSizeBytes int64) *MemoryStore {
	return &MemoryStore{
		objects:      make(map[string]MemoryObject),
		uploads:      make(map[string]*memUpload),
		maxSizeBytes: maxSizeBytes,
	}
}

// SetMinPartSize sets the minimum part size reported by targets created
// afterwards.
func (s *MemoryStore) SetMinPartSize(n int) {
	s.mu.Lock()
	s.minPartSize = n
	s.mu.Unlock()
}

// objectKey builds the map key for an object from its bucket and key.
func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// computeETag returns the quoted MD5 hex digest of data.
func computeETag(data []byte) string {
	h := md5.Sum(data)
	return fmt.Sprintf(`"%x"`, h[:])
}

// Get returns a copy of the object at bucket/key.
func (s *MemoryStore) Get(bucket, key string) (MemoryObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, found := s.objects[objectKey(bucket, key)]
	if !found {
		return MemoryObject{}, false
	}
	obj.Data = bytes.Clone(obj.Data)
	obj.Metadata = maps.Clone(obj.Metadata)
	return obj, true
}

// Keys returns the "bucket/key" names of all stored objects, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// PendingUploads returns the number of multipart uploads not yet completed.
func (s *MemoryStore) PendingUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

// Size returns the number of bytes held by objects and pending parts.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// reserveLocked accounts for delta bytes. The caller must hold s.mu.
func (s *MemoryStore) reserveLocked(delta int64) error {
	if s.maxSizeBytes > 0 && s.currentSize+delta > s.maxSizeBytes {
		return fmt.Errorf("memory limit exceeded: current=%d, delta=%d, max=%d", s.currentSize, delta, s.maxSizeBytes)
	}
	s.currentSize += delta
	return nil
}

// putLocked stores obj at ok, replacing any existing object. The caller
// must hold s.mu.
func (s *MemoryStore) putLocked(ok string, obj MemoryObject, released int64) error {
	delta := int64(len(obj.Data)) - released
	if existing, found := s.objects[ok]; found {
		delta -= int64(len(existing.Data))
	}
	if err := s.reserveLocked(delta); err != nil {
		return err
	}
	s.objects[ok] = obj
	return nil
}

// Target returns a Target writing bucket/key into the store.
func (s *MemoryStore) Target(bucket, key string, opts ObjectOptions) *MemoryTarget {
	s.mu.RLock()
	minPart := s.minPartSize
	s.mu.RUnlock()
	return &MemoryTarget{
		Bucket:  bucket,
		Key:     key,
		store:   s,
		opts:    opts,
		minPart: minPart,
	}
}

// MemoryTarget writes one object into a MemoryStore.
type MemoryTarget struct {
	Bucket string
	Key    string

	store   *MemoryStore
	opts    ObjectOptions
	minPart int
}

func (t *MemoryTarget) object(data []byte, etag string) MemoryObject {
	return MemoryObject{
		Data:        data,
		ETag:        etag,
		ContentType: t.opts.ContentType,
		Metadata:    maps.Clone(t.opts.Metadata),
	}
}

// Name implements Target.
func (t *MemoryTarget) Name() string {
	return config.FormatLocation(config.ProviderMemory, t.Bucket, t.Key)
}

// MinPartSize implements Target.
func (t *MemoryTarget) MinPartSize() int {
	return t.minPart
}

// PutObject implements Target.
func (t *MemoryTarget) PutObject(ctx context.Context, data []byte) error {
	data = bytes.Clone(data)
	if data == nil {
		data = []byte{}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.putLocked(objectKey(t.Bucket, t.Key), t.object(data, computeETag(data)), 0)
}

// CreateUpload implements Target.
func (t *MemoryTarget) CreateUpload(ctx context.Context) (string, error) {
	id := uuid.NewString()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.uploads[id] = &memUpload{
		key:   objectKey(t.Bucket, t.Key),
		parts: make(map[int32][]byte),
	}
	return id, nil
}

// UploadPart implements Target.
func (t *MemoryTarget) UploadPart(ctx context.Context, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	data = bytes.Clone(data)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	upload, found := t.store.uploads[uploadID]
	if !found {
		return CompletedPart{}, fmt.Errorf("no such upload: %s", uploadID)
	}
	delta := int64(len(data)) - int64(len(upload.parts[partNumber]))
	if err := t.store.reserveLocked(delta); err != nil {
		return CompletedPart{}, err
	}
	upload.parts[partNumber] = data
	return CompletedPart{Number: partNumber, ETag: computeETag(data), Size: len(data)}, nil
}

// CompleteUpload implements Target. Every part but the last must be at
// least MinPartSize bytes.
func (t *MemoryTarget) CompleteUpload(ctx context.Context, uploadID string, parts []CompletedPart) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	upload, found := t.store.uploads[uploadID]
	if !found {
		return fmt.Errorf("no such upload: %s", uploadID)
	}

	var assembled []byte
	compositeMD5 := md5.New()
	for i, p := range parts {
		data, found := upload.parts[p.Number]
		if !found {
			return fmt.Errorf("part not found: uploadID=%s partNumber=%d", uploadID, p.Number)
		}
		if i < len(parts)-1 && len(data) < t.minPart {
			return fmt.Errorf("part %d is %d bytes, below the minimum of %d", p.Number, len(data), t.minPart)
		}
		assembled = append(assembled, data...)
		partHash := md5.Sum(data)
		compositeMD5.Write(partHash[:])
	}

	var released int64
	for _, data := range upload.parts {
		released += int64(len(data))
	}
	etag := fmt.Sprintf(`"%x-%d"`, compositeMD5.Sum(nil), len(parts))
	if err := t.store.putLocked(upload.key, t.object(assembled, etag), released); err != nil {
		return err
	}
	delete(t.store.uploads, uploadID)
	return nil
}

// UploadStream implements Target.
func (t *MemoryTarget) UploadStream(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return t.PutObject(ctx, data)
}

// Close implements Target.
func (t *MemoryTarget) Close() error {
	return nil
}

// Ensure MemoryTarget implements Target at compile time.
var _ Target = (*MemoryTarget)(nil)
