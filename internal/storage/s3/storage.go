// Package s3 implements storage.MultipartBackend for AWS S3 and S3-compatible storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/fjmerc/partstream/internal/storage"
)

const (
	// minPartNumber and maxPartNumber bound S3 part numbers
	minPartNumber = 1
	maxPartNumber = 10000

	// uploaderPartSize is the part size the upload manager uses for whole-object Puts
	uploaderPartSize = 16 * 1024 * 1024
)

// transientCodes are S3 error codes worth retrying.
var transientCodes = map[string]bool{
	"SlowDown":           true,
	"InternalError":      true,
	"ServiceUnavailable": true,
	"RequestTimeout":     true,
	"Throttling":         true,
}

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Custom endpoint for MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool // Use path-style addressing (required for MinIO)
}

// S3Storage implements storage.MultipartBackend for AWS S3 and S3-compatible storage.
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

var _ storage.MultipartBackend = (*S3Storage)(nil)

// NewS3Storage creates a new S3Storage with the given configuration.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	var optFuncs []func(*config.LoadOptions) error

	if cfg.Region != "" {
		optFuncs = append(optFuncs, config.WithRegion(cfg.Region))
	}

	// Static credentials when provided; otherwise the default chain applies
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFuncs = append(optFuncs, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFuncs...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	// Verify bucket access with a HEAD request
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket %q: %w", cfg.Bucket, err)
	}

	slog.Info("S3 storage initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.PathStyle,
	)

	return newWithClient(client, cfg.Bucket), nil
}

func newWithClient(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = uploaderPartSize
		}),
		bucket: bucket,
	}
}

// validateKey ensures the S3 key doesn't contain path traversal attacks or dangerous characters.
func (s *S3Storage) validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key not allowed")
	}

	// Reject null bytes which can cause truncation issues
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("null bytes not allowed in key")
	}

	// Reject keys that look URL-encoded to prevent double-encoding attacks
	if strings.Contains(key, "%") {
		return fmt.Errorf("encoded characters not allowed in key")
	}

	if strings.Contains(key, "..") {
		return fmt.Errorf("path traversal not allowed: %s", key)
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == "/" {
		return fmt.Errorf("invalid key: %s", key)
	}

	return nil
}

// validateUploadID rejects empty IDs and control characters. S3 upload IDs
// are opaque and may contain characters a filesystem ID would not.
func (s *S3Storage) validateUploadID(uploadID string) error {
	if uploadID == "" {
		return fmt.Errorf("upload ID is required")
	}
	if strings.ContainsAny(uploadID, "\x00\r\n") {
		return fmt.Errorf("control characters not allowed in upload ID")
	}
	return nil
}

func (s *S3Storage) validatePartNumber(partNumber int) error {
	if partNumber < minPartNumber || partNumber > maxPartNumber {
		return fmt.Errorf("part number %d outside [%d, %d]", partNumber, minPartNumber, maxPartNumber)
	}
	return nil
}

// classifyError maps SDK errors onto the storage error sentinels.
func classifyError(op, key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var nsu *types.NoSuchUpload
	if errors.As(err, &nsk) || errors.As(err, &nf) || errors.As(err, &nsu) {
		return storage.NewStorageErrorWithMessage(op, key, storage.ErrNotFound, "object not found")
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return storage.NewTransientError(op, key, err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
		return storage.NewTransientError(op, key, err)
	}

	if storage.IsTransient(err) {
		return storage.NewTransientError(op, key, err)
	}

	return storage.NewStorageError(op, key, err)
}

// countingReader counts bytes as the uploader consumes them.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

// Put writes data from the reader to S3. Streams through the upload manager
// so large objects never sit in memory.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) (*storage.ObjectInfo, error) {
	if err := s.validateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithMessage("Put", key, err, "key validation failed")
	}

	cr := &countingReader{r: r}
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     cr,
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return nil, classifyError("Put", key, err)
	}

	if size >= 0 && cr.n != size {
		// Don't leave a short object behind
		_ = s.Delete(ctx, key) //nolint:errcheck // Best-effort cleanup
		return nil, storage.NewStorageErrorWithMessage("Put", key, nil,
			fmt.Sprintf("size mismatch: expected %d bytes, wrote %d bytes", size, cr.n))
	}

	slog.Debug("object stored in S3", "key", key, "size", cr.n)

	return &storage.ObjectInfo{
		Key:          key,
		Size:         cr.n,
		ETag:         trimETag(out.ETag),
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		LastModified: time.Now().UTC(),
		Metadata:     opts.Metadata,
	}, nil
}

// Get returns a reader for the stored object.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, *storage.ObjectInfo, error) {
	if err := s.validateKey(key); err != nil {
		return nil, nil, storage.NewStorageErrorWithMessage("Get", key, err, "key validation failed")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, classifyError("Get", key, err)
	}

	return result.Body, &storage.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		ETag:         trimETag(result.ETag),
		ContentType:  aws.ToString(result.ContentType),
		CacheControl: aws.ToString(result.CacheControl),
		LastModified: aws.ToTime(result.LastModified),
		Metadata:     result.Metadata,
	}, nil
}

// StreamRange writes a byte range from a stored object to the writer.
func (s *S3Storage) StreamRange(ctx context.Context, key string, start, end int64, w io.Writer) (int64, error) {
	if start < 0 || end < start {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, storage.ErrInvalidRange,
			fmt.Sprintf("invalid range: start=%d, end=%d", start, end))
	}

	if err := s.validateKey(key); err != nil {
		return 0, storage.NewStorageErrorWithMessage("StreamRange", key, err, "key validation failed")
	}

	// S3 Range header is bytes=start-end (both inclusive)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return 0, classifyError("StreamRange", key, err)
	}
	defer result.Body.Close()

	written, err := io.Copy(w, result.Body)
	if err != nil {
		return written, storage.NewStorageError("StreamRange", key, err)
	}

	return written, nil
}

// Stat returns object metadata via HEAD.
func (s *S3Storage) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	if err := s.validateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithMessage("Stat", key, err, "key validation failed")
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyError("Stat", key, err)
	}

	return &storage.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		ETag:         trimETag(result.ETag),
		ContentType:  aws.ToString(result.ContentType),
		CacheControl: aws.ToString(result.CacheControl),
		LastModified: aws.ToTime(result.LastModified),
		Metadata:     result.Metadata,
	}, nil
}

// Delete removes an object from S3.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("Delete", key, err, "key validation failed")
	}

	// S3 doesn't error on delete of non-existent objects
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyError("Delete", key, err)
	}

	slog.Debug("object deleted from S3", "key", key)
	return nil
}

// List returns all objects under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []storage.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyError("List", prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, storage.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         trimETag(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

// CreateMultipart starts a native multipart upload.
func (s *S3Storage) CreateMultipart(ctx context.Context, key string, opts storage.PutOptions) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("CreateMultipart", key, err, "key validation failed")
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Metadata: opts.Metadata,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	resp, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", classifyError("CreateMultipart", key, err)
	}

	slog.Debug("multipart upload created", "key", key, "upload_id", aws.ToString(resp.UploadId))
	return aws.ToString(resp.UploadId), nil
}

// UploadPart stores one part of a native multipart upload.
func (s *S3Storage) UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	if err := s.validateKey(key); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "key validation failed")
	}
	if err := s.validateUploadID(uploadID); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "invalid upload ID")
	}
	if err := s.validatePartNumber(partNumber); err != nil {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, err, "invalid part number")
	}

	input := &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       r,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	resp, err := s.client.UploadPart(ctx, input)
	if err != nil {
		return "", classifyError("UploadPart", key, err)
	}

	return trimETag(resp.ETag), nil
}

// CompleteMultipart stitches the uploaded parts into the final object.
func (s *S3Storage) CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) (*storage.ObjectInfo, error) {
	if err := s.validateKey(key); err != nil {
		return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, err, "key validation failed")
	}
	if err := s.validateUploadID(uploadID); err != nil {
		return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, err, "invalid upload ID")
	}
	if len(parts) == 0 {
		return nil, storage.NewStorageErrorWithMessage("CompleteMultipart", key, nil, "no parts to complete")
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(`"` + p.ETag + `"`),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}

	startTime := time.Now()
	resp, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return nil, classifyError("CompleteMultipart", key, err)
	}

	slog.Info("multipart upload completed in S3",
		"key", key,
		"upload_id", uploadID,
		"parts", len(parts),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	// Size and headers come from HEAD; the complete response carries neither
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if etag := trimETag(resp.ETag); etag != "" {
		info.ETag = etag
	}
	return info, nil
}

// AbortMultipart discards a native multipart upload.
func (s *S3Storage) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := s.validateKey(key); err != nil {
		return storage.NewStorageErrorWithMessage("AbortMultipart", key, err, "key validation failed")
	}
	if err := s.validateUploadID(uploadID); err != nil {
		return storage.NewStorageErrorWithMessage("AbortMultipart", key, err, "invalid upload ID")
	}

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		classified := classifyError("AbortMultipart", key, err)
		// Already gone counts as aborted
		if storage.IsNotFound(classified) {
			return nil
		}
		return classified
	}

	slog.Debug("multipart upload aborted", "key", key, "upload_id", uploadID)
	return nil
}

// HealthCheck verifies that the bucket is accessible with a HEAD request.
// Includes a 5-second timeout to prevent indefinite blocking on network issues.
func (s *S3Storage) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return storage.NewStorageErrorWithMessage("HealthCheck", s.bucket, err, "S3 bucket not accessible")
	}
	return nil
}
