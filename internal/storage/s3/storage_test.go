package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fjmerc/partstream/internal/storage"
)

// TestValidateKey tests the key validation function
func TestValidateKey(t *testing.T) {
	s := &S3Storage{bucket: "test-bucket"}

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		// Valid keys
		{name: "object key", key: "files/u1/1700000000000-abc123.bin", wantErr: false},
		{name: "temp part key", key: "files/u1/1700000000000-abc123.bin.part7", wantErr: false},
		{name: "simple filename", key: "test.txt", wantErr: false},

		// Invalid keys - path traversal
		{name: "path traversal ..", key: "../secret.txt", wantErr: true},
		{name: "path traversal in middle", key: "files/../secret.txt", wantErr: true},

		// Invalid keys - special characters
		{name: "null byte", key: "file\x00.txt", wantErr: true},
		{name: "url encoded", key: "file%2F.txt", wantErr: true},
		{name: "empty key", key: "", wantErr: true},

		// Invalid keys - special paths
		{name: "just dot", key: ".", wantErr: true},
		{name: "just slash", key: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

// TestValidateUploadID tests the upload ID validation function
func TestValidateUploadID(t *testing.T) {
	s := &S3Storage{bucket: "test-bucket"}

	tests := []struct {
		name     string
		uploadID string
		wantErr  bool
	}{
		{name: "aws style", uploadID: "VXBsb2FkIElEIGZvciA2aWWpbmcncyBteS1tb3ZpZS5tMnRzIHVwbG9hZA", wantErr: false},
		{name: "minio style with slash", uploadID: "ZmQ1/YzQ3LTQ2", wantErr: false},
		{name: "empty", uploadID: "", wantErr: true},
		{name: "null byte", uploadID: "id\x00test", wantErr: true},
		{name: "newline", uploadID: "id\ntest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateUploadID(tt.uploadID)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateUploadID(%q) error = %v, wantErr %v", tt.uploadID, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePartNumber(t *testing.T) {
	s := &S3Storage{}
	for _, n := range []int{1, 500, 10000} {
		if err := s.validatePartNumber(n); err != nil {
			t.Errorf("validatePartNumber(%d) error = %v", n, err)
		}
	}
	for _, n := range []int{0, -1, 10001} {
		if err := s.validatePartNumber(n); err == nil {
			t.Errorf("validatePartNumber(%d) should fail", n)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantNotFound  bool
		wantTransient bool
	}{
		{"no such key", &types.NoSuchKey{Message: aws.String("gone")}, true, false},
		{"not found", &types.NotFound{}, true, false},
		{"no such upload", &types.NoSuchUpload{}, true, false},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce rate"}, false, true},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, false, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false, false},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), false, true},
		{"other", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError("Op", "key", tt.err)
			if storage.IsNotFound(got) != tt.wantNotFound {
				t.Errorf("IsNotFound(%v) = %v, want %v", got, !tt.wantNotFound, tt.wantNotFound)
			}
			if storage.IsTransient(got) != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", got, !tt.wantTransient, tt.wantTransient)
			}
			var se *storage.StorageError
			if !errors.As(got, &se) || se.Op != "Op" {
				t.Errorf("classifyError() = %T, want *storage.StorageError with op", got)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	cr := &countingReader{r: strings.NewReader("twelve bytes")}
	data, err := io.ReadAll(cr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if cr.n != int64(len(data)) || cr.n != 12 {
		t.Errorf("counted %d bytes, want 12", cr.n)
	}
}

func TestTrimETag(t *testing.T) {
	if got := trimETag(aws.String(`"abc123"`)); got != "abc123" {
		t.Errorf("trimETag quoted = %q, want abc123", got)
	}
	if got := trimETag(nil); got != "" {
		t.Errorf("trimETag(nil) = %q, want empty", got)
	}
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{})
	if err == nil {
		t.Error("NewS3Storage without bucket should fail")
	}
}
