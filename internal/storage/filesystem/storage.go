// Package filesystem implements storage.Backend on a local directory.
// It has no native multipart support; uploads go through temporary part
// objects that are concatenated on completion.
package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fjmerc/partstream/internal/storage"
)

const (
	// metaSuffix names the sidecar file holding an object's headers and ETag
	metaSuffix = ".meta.json"

	tempSuffix = ".tmp"
)

// objectMeta is the sidecar record persisted next to each object.
type objectMeta struct {
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type,omitempty"`
	CacheControl string            `json:"cache_control,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FilesystemStorage implements storage.Backend for local filesystem storage.
type FilesystemStorage struct {
	baseDir    string // Base directory for all storage operations
	absBaseDir string // Absolute path of baseDir for path validation
}

var _ storage.Backend = (*FilesystemStorage)(nil)

// NewFilesystemStorage creates a new FilesystemStorage with the given base directory.
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewStorageError("NewFilesystemStorage", baseDir, err)
	}

	// Get absolute path for security validation
	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewStorageError("NewFilesystemStorage", baseDir, err)
	}

	return &FilesystemStorage{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
	}, nil
}

// validatePath validates that the key doesn't escape the base directory.
// Returns the safe full path or an error if path traversal is detected.
func (fs *FilesystemStorage) validatePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key not allowed")
	}
	if strings.ContainsRune(key, '\x00') {
		return "", fmt.Errorf("null bytes not allowed in key")
	}
	if strings.HasSuffix(key, metaSuffix) || strings.HasSuffix(key, tempSuffix) {
		return "", fmt.Errorf("reserved key suffix: %s", key)
	}

	// Clean the key to resolve any ".." or "." components
	cleanKey := filepath.Clean(filepath.FromSlash(key))

	// Reject absolute paths
	if filepath.IsAbs(cleanKey) {
		return "", fmt.Errorf("absolute paths not allowed: %s", key)
	}

	// Reject paths that contain ".." after cleaning
	if strings.HasPrefix(cleanKey, "..") || strings.Contains(cleanKey, string(filepath.Separator)+"..") {
		return "", fmt.Errorf("path traversal not allowed: %s", key)
	}

	fullPath := filepath.Join(fs.baseDir, cleanKey)

	// Get absolute path and verify it's within baseDir
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, fs.absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escape attempt: %s", key)
	}

	return fullPath, nil
}

// Put writes data from the reader to storage under key.
// Uses atomic write pattern (temp file then rename) so readers never see a partial object.
func (fs *FilesystemStorage) Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) (*storage.ObjectInfo, error) {
	filePath, err := fs.validatePath(key)
	if err != nil {
		return nil, storage.NewStorageErrorWithMessage("Put", key, err, "path validation failed")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}

	// Unique temp name so concurrent writers of one key don't collide; last rename wins
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*"+tempSuffix)
	if err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}
	tempPath := tempFile.Name()

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	// Hash while streaming
	hasher := sha256.New()
	written, err := io.Copy(tempFile, io.TeeReader(&contextReader{ctx: ctx, r: r}, hasher))
	if err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}

	if size >= 0 && written != size {
		return nil, storage.NewStorageErrorWithMessage("Put", key, nil,
			fmt.Sprintf("size mismatch: expected %d bytes, wrote %d bytes", size, written))
	}

	if err := tempFile.Sync(); err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}

	meta := objectMeta{
		ETag:         hex.EncodeToString(hasher.Sum(nil)),
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Metadata:     opts.Metadata,
	}

	// The sidecar goes in first; a failure here leaves the previous object untouched
	if err := writeMeta(filePath, meta); err != nil {
		return nil, storage.NewStorageError("Put", key, err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, filePath); err != nil {
		// The installed sidecar describes content that never landed
		if rmErr := os.Remove(filePath + metaSuffix); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove orphaned object metadata", "key", key, "error", rmErr)
		}
		return nil, storage.NewStorageError("Put", key, err)
	}
	succeeded = true

	slog.Debug("object stored",
		"key", key,
		"size", written,
		"etag", meta.ETag[:16]+"...",
	)

	return &storage.ObjectInfo{
		Key:          key,
		Size:         written,
		ETag:         meta.ETag,
		ContentType:  meta.ContentType,
		CacheControl: meta.CacheControl,
		LastModified: time.Now().UTC(),
		Metadata:     meta.Metadata,
	}, nil
}

// Get returns a reader for the stored object.
func (fs *FilesystemStorage) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	filePath, err := fs.validatePath(key)
	if err != nil {
		return nil, nil, storage.NewStorageErrorWithMessage("Get", key, err, "path validation failed")
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, storage.NewStorageErrorWithMessage("Get", key, storage.ErrNotFound, "file not found")
		}
		return nil, nil, storage.NewStorageError("Get", key, err)
	}

	info, err := fs.stat(key, filePath)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return file, info, nil
}

// StreamRange writes a byte range from a stored object to the writer.
func (fs *FilesystemStorage) StreamRange(ctx context.Context, key string, start, end int64, w io.Writer) (int64, error) {
	if start < 0 || end < start {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, storage.ErrInvalidRange,
			fmt.Sprintf("invalid range: start=%d, end=%d", start, end))
	}

	filePath, err := fs.validatePath(key)
	if err != nil {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, err, "path validation failed")
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, storage.NewStorageErrorWithMessage("StreamRange", key, storage.ErrNotFound, "file not found")
		}
		return 0, storage.NewStorageError("StreamRange", key, err)
	}
	defer file.Close()

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return 0, storage.NewStorageError("StreamRange", key, err)
	}

	// end is inclusive
	written, err := io.Copy(w, io.LimitReader(file, end-start+1))
	if err != nil {
		return written, storage.NewStorageError("StreamRange", key, err)
	}

	return written, nil
}

// Stat returns object metadata.
func (fs *FilesystemStorage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	filePath, err := fs.validatePath(key)
	if err != nil {
		return nil, storage.NewStorageErrorWithMessage("Stat", key, err, "path validation failed")
	}
	return fs.stat(key, filePath)
}

func (fs *FilesystemStorage) stat(key, filePath string) (*storage.ObjectInfo, error) {
	fi, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewStorageErrorWithMessage("Stat", key, storage.ErrNotFound, "file not found")
		}
		return nil, storage.NewStorageError("Stat", key, err)
	}

	info := &storage.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UTC(),
	}

	meta, err := readMeta(filePath)
	if err != nil {
		// Objects written outside Put have no sidecar
		if !os.IsNotExist(err) {
			slog.Warn("unreadable object metadata", "key", key, "error", err)
		}
		return info, nil
	}

	info.ETag = meta.ETag
	info.ContentType = meta.ContentType
	info.CacheControl = meta.CacheControl
	info.Metadata = meta.Metadata
	return info, nil
}

// Delete removes an object and its metadata.
func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	filePath, err := fs.validatePath(key)
	if err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "path validation failed")
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return storage.NewStorageError("Delete", key, err)
	}
	if err := os.Remove(filePath + metaSuffix); err != nil && !os.IsNotExist(err) {
		return storage.NewStorageError("Delete", key, err)
	}

	slog.Debug("object deleted", "key", key)
	return nil
}

// List returns all objects whose key starts with prefix, sorted by key.
func (fs *FilesystemStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if strings.Contains(prefix, "..") || strings.ContainsRune(prefix, '\x00') {
		return nil, storage.NewStorageErrorWithMessage("List", prefix, nil, "invalid prefix")
	}

	// Walk only the deepest directory the prefix pins down
	root := fs.baseDir
	if dir := path.Dir(prefix); strings.Contains(prefix, "/") && dir != "." {
		root = filepath.Join(fs.baseDir, filepath.FromSlash(dir))
	}

	var objects []storage.ObjectInfo
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, tempSuffix) {
			return nil
		}

		rel, err := filepath.Rel(fs.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := fs.stat(key, p)
		if err != nil {
			// Removed between walk and stat
			if storage.IsNotFound(err) {
				return nil
			}
			return err
		}
		objects = append(objects, *info)
		return nil
	})
	if err != nil {
		return nil, storage.NewStorageError("List", prefix, err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// HealthCheck verifies the base directory exists and is writable.
func (fs *FilesystemStorage) HealthCheck(ctx context.Context) error {
	probe, err := os.CreateTemp(fs.baseDir, ".health-*"+tempSuffix)
	if err != nil {
		return storage.NewStorageErrorWithMessage("HealthCheck", fs.baseDir, err, "storage directory not writable")
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// GetBaseDir returns the base directory.
func (fs *FilesystemStorage) GetBaseDir() string {
	return fs.baseDir
}

// writeMeta replaces the sidecar for filePath through a temp file and rename.
func writeMeta(filePath string, meta objectMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+metaSuffix+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filePath+metaSuffix); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func readMeta(filePath string) (*objectMeta, error) {
	data, err := os.ReadFile(filePath + metaSuffix)
	if err != nil {
		return nil, err
	}
	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
