package partstream

import (
	"net/http"
	"time"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. "https://files.example.com".
	BaseURL string
	// APIToken is the bearer token for control and object calls.
	APIToken string
	// Timeout bounds each control request. Defaults to 60 seconds.
	// Part uploads and downloads are bounded by their context instead.
	Timeout time.Duration
	// RetryMax is how many times idempotent control calls are retried.
	// Defaults to 3. Negative disables retries.
	RetryMax int
	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
	// HTTPClient overrides the transport used for every request.
	HTTPClient *http.Client
}

// InitRequest describes a file about to be uploaded.
type InitRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	PartSize    int64  `json:"part_size,omitempty"`
}

// Session is an open upload session as confirmed by the server.
type Session struct {
	UploadID   string    `json:"upload_id"`
	ObjectKey  string    `json:"object_key"`
	PartSize   int64     `json:"part_size"`
	TotalParts int       `json:"total_parts"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PartToken authorizes the upload of one part.
type PartToken struct {
	PartNumber int       `json:"part_number"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PartReceipt is the server's acknowledgement of a stored part.
type PartReceipt struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// CompletedObject describes the assembled object.
type CompletedObject struct {
	ObjectKey   string `json:"object_key"`
	ETag        string `json:"etag"`
	TotalSize   int64  `json:"total_size"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

// UploadStatus reports a session and the parts registered so far.
type UploadStatus struct {
	UploadID     string        `json:"upload_id"`
	ObjectKey    string        `json:"object_key"`
	Filename     string        `json:"filename"`
	State        string        `json:"state"`
	ExpectedSize int64         `json:"expected_size"`
	PartSize     int64         `json:"part_size"`
	TotalParts   int           `json:"total_parts"`
	Parts        []PartReceipt `json:"parts"`
	LastActivity time.Time     `json:"last_activity"`
}

// Session states reported by Status.
const (
	StateOpen       = "open"
	StateCompleting = "completing"
	StateCompleted  = "completed"
	StateAborted    = "aborted"
)

// Object is a completed upload.
type Object struct {
	Key         string    `json:"key"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	UploadID    string    `json:"upload_id,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ResumeState identifies an upload session that can be continued.
type ResumeState struct {
	UploadID  string `json:"upload_id"`
	ObjectKey string `json:"object_key"`
}

// Progress is reported as parts finish and once more when the object is
// complete. Values never decrease.
type Progress struct {
	BytesDone  int64
	BytesTotal int64
	PartsDone  int
	PartsTotal int
	// Completed is set only on the final report, after the server assembled the object
	Completed bool
}

// UploadOptions configures Upload and UploadFile.
type UploadOptions struct {
	// Filename is stored with the object. UploadFile defaults it to the
	// file's base name.
	Filename string
	// ContentType is optional; the server sniffs part 1 when empty.
	ContentType string
	// PartSize is the preferred part size. The server may adjust it.
	PartSize int64
	// Concurrency is the number of parts in flight. Defaults to 3.
	Concurrency int
	// PartRetries is how many times a failed part is retried. Defaults to 3.
	PartRetries int
	// RetryBackoff is the first retry delay, doubled per attempt.
	// Defaults to 500ms.
	RetryBackoff time.Duration
	// Resume continues an existing session instead of starting one.
	Resume *ResumeState
	// OnSession is called once the session is known, before any part is sent.
	OnSession func(ResumeState)
	// OnProgress is called as parts finish and after completion.
	OnProgress func(Progress)
}

// ByteRange is an inclusive byte range. End < 0 means through the last byte.
type ByteRange struct {
	Start int64
	End   int64
}

// DownloadOptions configures a download.
type DownloadOptions struct {
	// Range requests part of the object.
	Range *ByteRange
	// OnProgress is called with download progress updates.
	OnProgress func(DownloadProgress)
}

// DownloadProgress provides information about download progress.
type DownloadProgress struct {
	BytesDownloaded int64
	TotalBytes      int64 // -1 when unknown
}

// DownloadInfo describes a finished download.
type DownloadInfo struct {
	// Size is the number of bytes written.
	Size int64
	// ObjectSize is the full object size.
	ObjectSize int64
	// ContentRange is set for ranged downloads.
	ContentRange string
	ContentType  string
	ETag         string
}

// ListOptions pages through objects.
type ListOptions struct {
	Limit  int
	Offset int
}

type errorBody struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	ExpectedPart int    `json:"expected_part,omitempty"`
	PartNumber   int    `json:"part_number,omitempty"`
}

type partTokensRequest struct {
	ObjectKey       string `json:"object_key"`
	UploadID        string `json:"upload_id"`
	PartNumber      int    `json:"part_number,omitempty"`
	StartPartNumber int    `json:"start_part_number,omitempty"`
	EndPartNumber   int    `json:"end_part_number,omitempty"`
}

type partTokensResponse struct {
	Tokens []PartToken `json:"tokens"`
}

type completeRequest struct {
	ObjectKey string        `json:"object_key"`
	UploadID  string        `json:"upload_id"`
	Parts     []PartReceipt `json:"parts"`
}

type abortRequest struct {
	UploadID string `json:"upload_id"`
}

type abortResponse struct {
	UploadID string `json:"upload_id"`
	State    string `json:"state"`
}

type listResponse struct {
	Objects []Object `json:"objects"`
}

type deleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}
