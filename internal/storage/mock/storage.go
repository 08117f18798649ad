// Package mock provides in-memory implementations of storage.Backend and
// storage.MultipartBackend for tests, with error injection.
package mock

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjmerc/partstream/internal/storage"
)

type object struct {
	data []byte
	info storage.ObjectInfo
}

// StorageBackend is a mock implementation of storage.Backend for testing.
// It stores all data in memory and provides configurable behavior for tests.
type StorageBackend struct {
	mu sync.RWMutex

	objects map[string]*object

	// Error injection for testing
	PutError         error
	GetError         error
	StreamRangeError error
	StatError        error
	DeleteError      error
	ListError        error
	HealthCheckError error

	// TransientPutFailures makes the next N Put calls fail with a transient error
	TransientPutFailures int

	// Custom behavior hooks
	OnPut    func(ctx context.Context, key string, data []byte) error
	OnDelete func(ctx context.Context, key string) error

	putCalls    int
	deleteCalls int
}

// NewStorageBackend creates a new mock StorageBackend with default behavior.
func NewStorageBackend() *StorageBackend {
	return &StorageBackend{
		objects: make(map[string]*object),
	}
}

// Ensure StorageBackend implements storage.Backend
var _ storage.Backend = (*StorageBackend)(nil)

// Reset clears all objects, errors, and hooks for a fresh test state.
func (s *StorageBackend) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects = make(map[string]*object)
	s.PutError = nil
	s.GetError = nil
	s.StreamRangeError = nil
	s.StatError = nil
	s.DeleteError = nil
	s.ListError = nil
	s.HealthCheckError = nil
	s.TransientPutFailures = 0
	s.OnPut = nil
	s.OnDelete = nil
	s.putCalls = 0
	s.deleteCalls = 0
}

// AddObject directly adds an object to the mock storage for test setup.
func (s *StorageBackend) AddObject(key string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = newObject(key, content, storage.PutOptions{})
}

// GetObjectContent returns the content of an object (for test assertions).
func (s *StorageBackend) GetObjectContent(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.objects[key]
	if !exists {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// GetAllKeys returns all keys in storage, sorted (for test assertions).
func (s *StorageBackend) GetAllKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutCalls returns how many times Put was called.
func (s *StorageBackend) PutCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.putCalls
}

// DeleteCalls returns how many times Delete was called.
func (s *StorageBackend) DeleteCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleteCalls
}

func newObject(key string, data []byte, opts storage.PutOptions) *object {
	sum := sha256.Sum256(data)
	return &object{
		data: data,
		info: storage.ObjectInfo{
			Key:          key,
			Size:         int64(len(data)),
			ETag:         hex.EncodeToString(sum[:]),
			ContentType:  opts.ContentType,
			CacheControl: opts.CacheControl,
			LastModified: time.Now().UTC(),
			Metadata:     maps.Clone(opts.Metadata),
		},
	}
}

// Put stores the reader's content in memory.
func (s *StorageBackend) Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) (*storage.ObjectInfo, error) {
	s.mu.Lock()
	s.putCalls++
	if s.PutError != nil {
		err := s.PutError
		s.mu.Unlock()
		return nil, err
	}
	if s.TransientPutFailures > 0 {
		s.TransientPutFailures--
		s.mu.Unlock()
		return nil, storage.NewTransientError("Put", key, errors.New("injected transient failure"))
	}
	hook := s.OnPut
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return nil, storage.NewStorageErrorWithMessage("Put", key, nil,
			fmt.Sprintf("size mismatch: expected %d bytes, wrote %d bytes", size, len(data)))
	}

	if hook != nil {
		if err := hook(ctx, key, data); err != nil {
			return nil, err
		}
	}

	obj := newObject(key, data, opts)

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	info := obj.info
	return &info, nil
}

// Get returns a reader over a copy of the stored content.
func (s *StorageBackend) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.GetError != nil {
		return nil, nil, s.GetError
	}

	obj, exists := s.objects[key]
	if !exists {
		return nil, nil, storage.NewStorageErrorWithMessage("Get", key, storage.ErrNotFound, "object not found")
	}

	info := obj.info
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), &info, nil
}

// StreamRange writes bytes start..end (inclusive) to w.
func (s *StorageBackend) StreamRange(ctx context.Context, key string, start, end int64, w io.Writer) (int64, error) {
	s.mu.RLock()
	if s.StreamRangeError != nil {
		err := s.StreamRangeError
		s.mu.RUnlock()
		return 0, err
	}
	obj, exists := s.objects[key]
	var data []byte
	if exists {
		data = obj.data
	}
	s.mu.RUnlock()

	if !exists {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, storage.ErrNotFound, "object not found")
	}
	if start < 0 || end < start || start >= int64(len(data)) {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, storage.ErrInvalidRange,
			fmt.Sprintf("invalid range: start=%d, end=%d", start, end))
	}
	end = min(end, int64(len(data))-1)

	n, err := w.Write(data[start : end+1])
	return int64(n), err
}

// Stat returns object metadata.
func (s *StorageBackend) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.StatError != nil {
		return nil, s.StatError
	}
	obj, exists := s.objects[key]
	if !exists {
		return nil, storage.NewStorageErrorWithMessage("Stat", key, storage.ErrNotFound, "object not found")
	}
	info := obj.info
	return &info, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *StorageBackend) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deleteCalls++
	if s.DeleteError != nil {
		err := s.DeleteError
		s.mu.Unlock()
		return err
	}
	hook := s.OnDelete
	s.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, key); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// List returns objects under prefix sorted by key.
func (s *StorageBackend) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ListError != nil {
		return nil, s.ListError
	}

	var out []storage.ObjectInfo
	for k, obj := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// HealthCheck returns HealthCheckError.
func (s *StorageBackend) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.HealthCheckError
}

type pendingUpload struct {
	key   string
	opts  storage.PutOptions
	parts map[int][]byte
}

// MultipartStorage adds in-memory native multipart uploads to StorageBackend.
type MultipartStorage struct {
	*StorageBackend

	uploadsMu sync.Mutex
	uploads   map[string]*pendingUpload
	nextID    int

	CreateMultipartError   error
	UploadPartError        error
	CompleteMultipartError error
	AbortMultipartError    error

	// TransientCompleteFailures makes the next N CompleteMultipart calls fail transiently
	TransientCompleteFailures int

	// OnCompleteMultipart runs before parts are stitched
	OnCompleteMultipart func(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error

	completeCalls int
	abortCalls    int
}

// Ensure MultipartStorage implements storage.MultipartBackend
var _ storage.MultipartBackend = (*MultipartStorage)(nil)

// NewMultipartStorage creates a mock store with native multipart support.
func NewMultipartStorage() *MultipartStorage {
	return &MultipartStorage{
		StorageBackend: NewStorageBackend(),
		uploads:        make(map[string]*pendingUpload),
	}
}

// CompleteCalls returns how many times CompleteMultipart was called.
func (m *MultipartStorage) CompleteCalls() int {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()
	return m.completeCalls
}

// AbortCalls returns how many times AbortMultipart was called.
func (m *MultipartStorage) AbortCalls() int {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()
	return m.abortCalls
}

// PendingUploads returns the number of multipart uploads neither completed nor aborted.
func (m *MultipartStorage) PendingUploads() int {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()
	return len(m.uploads)
}

// CreateMultipart starts an in-memory multipart upload.
func (m *MultipartStorage) CreateMultipart(ctx context.Context, key string, opts storage.PutOptions) (string, error) {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()

	if m.CreateMultipartError != nil {
		return "", m.CreateMultipartError
	}

	m.nextID++
	uploadID := fmt.Sprintf("mock-upload-%d", m.nextID)
	m.uploads[uploadID] = &pendingUpload{key: key, opts: opts, parts: make(map[int][]byte)}
	return uploadID, nil
}

// UploadPart stores a part; ETags are MD5 hex like S3's.
func (m *MultipartStorage) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	m.uploadsMu.Lock()
	if m.UploadPartError != nil {
		err := m.UploadPartError
		m.uploadsMu.Unlock()
		return "", err
	}
	up, ok := m.uploads[uploadID]
	m.uploadsMu.Unlock()

	if !ok || up.key != key {
		return "", storage.NewStorageErrorWithMessage("UploadPart", uploadID, storage.ErrNotFound, "upload not found")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", storage.NewStorageError("UploadPart", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, nil,
			fmt.Sprintf("size mismatch: expected %d bytes, got %d", size, len(data)))
	}

	m.uploadsMu.Lock()
	up.parts[partNumber] = data
	m.uploadsMu.Unlock()

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// CompleteMultipart concatenates the listed parts into the final object.
func (m *MultipartStorage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) (*storage.ObjectInfo, error) {
	m.uploadsMu.Lock()
	m.completeCalls++
	if m.CompleteMultipartError != nil {
		err := m.CompleteMultipartError
		m.uploadsMu.Unlock()
		return nil, err
	}
	if m.TransientCompleteFailures > 0 {
		m.TransientCompleteFailures--
		m.uploadsMu.Unlock()
		return nil, storage.NewTransientError("CompleteMultipart", key, errors.New("injected transient failure"))
	}
	hook := m.OnCompleteMultipart
	m.uploadsMu.Unlock()

	if hook != nil {
		if err := hook(ctx, key, uploadID, parts); err != nil {
			return nil, err
		}
	}

	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()

	up, ok := m.uploads[uploadID]
	if !ok || up.key != key {
		return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", uploadID, storage.ErrNotFound, "upload not found")
	}

	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, nil, "parts not in ascending order")
		}
		data, ok := up.parts[p.PartNumber]
		if !ok {
			return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, nil,
				fmt.Sprintf("part %d was never uploaded", p.PartNumber))
		}
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != p.ETag {
			return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, nil,
				fmt.Sprintf("etag mismatch for part %d", p.PartNumber))
		}
		buf.Write(data)
	}

	obj := newObject(key, buf.Bytes(), up.opts)
	delete(m.uploads, uploadID)

	m.mu.Lock()
	m.objects[key] = obj
	m.mu.Unlock()

	info := obj.info
	return &info, nil
}

// AbortMultipart discards an upload. Unknown uploads are not an error.
func (m *MultipartStorage) AbortMultipart(ctx context.Context, key, uploadID string) error {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()

	m.abortCalls++
	if m.AbortMultipartError != nil {
		return m.AbortMultipartError
	}
	delete(m.uploads, uploadID)
	return nil
}
