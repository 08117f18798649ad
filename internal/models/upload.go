package models

import "time"

// SessionState is the lifecycle state of an upload session
type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionCompleting SessionState = "completing"
	SessionCompleted  SessionState = "completed"
	SessionAborted    SessionState = "aborted"
)

// IsTerminal reports whether no further transitions are possible
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

// UploadSession represents a multipart upload in progress or finished
type UploadSession struct {
	UploadID     string       `json:"upload_id"`
	ObjectKey    string       `json:"object_key"`
	OwnerID      string       `json:"owner_id"`
	Filename     string       `json:"filename"`
	ContentType  string       `json:"content_type"`
	ExpectedSize int64        `json:"expected_size"` // 0 = unknown
	PartSize     int64        `json:"part_size"`
	TotalParts   int          `json:"total_parts"` // 0 = unknown
	State        SessionState `json:"state"`
	Native       bool         `json:"native"` // backed by the store's multipart primitives
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	ETag         string       `json:"etag,omitempty"`
	TotalSize    int64        `json:"total_size,omitempty"`
}

// UploadPart is the registry record of one stored part
type UploadPart struct {
	UploadID   string    `json:"upload_id"`
	PartNumber int       `json:"part_number"`
	ETag       string    `json:"etag"`
	Size       int64     `json:"size"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UploadInitRequest represents the request to start a multipart upload
type UploadInitRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	PartSize    int64  `json:"part_size,omitempty"`
}

// UploadInitResponse represents the response after starting a multipart upload
type UploadInitResponse struct {
	UploadID   string    `json:"upload_id"`
	ObjectKey  string    `json:"object_key"`
	PartSize   int64     `json:"part_size"`
	TotalParts int       `json:"total_parts"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PartTokensRequest asks for part authorizations, either one part or an inclusive range
type PartTokensRequest struct {
	ObjectKey       string `json:"object_key"`
	UploadID        string `json:"upload_id"`
	PartNumber      int    `json:"part_number,omitempty"`
	StartPartNumber int    `json:"start_part_number,omitempty"`
	EndPartNumber   int    `json:"end_part_number,omitempty"`
}

// PartToken is one issued part authorization
type PartToken struct {
	PartNumber int       `json:"part_number"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PartTokensResponse wraps issued tokens
type PartTokensResponse struct {
	Tokens []PartToken `json:"tokens"`
}

// PartReceipt is returned for each stored part and echoed back on completion
type PartReceipt struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Size       int64  `json:"size"`
}

// UploadCompleteRequest lists the parts to stitch
type UploadCompleteRequest struct {
	ObjectKey string        `json:"object_key"`
	UploadID  string        `json:"upload_id"`
	Parts     []PartReceipt `json:"parts"`
}

// UploadCompleteResponse describes the finished object
type UploadCompleteResponse struct {
	ObjectKey   string `json:"object_key"`
	ETag        string `json:"etag"`
	TotalSize   int64  `json:"total_size"`
	ContentType string `json:"content_type"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

// UploadAbortRequest names the session to abort
type UploadAbortRequest struct {
	UploadID string `json:"upload_id"`
}

// UploadAbortResponse confirms an abort
type UploadAbortResponse struct {
	UploadID string       `json:"upload_id"`
	State    SessionState `json:"state"`
}

// UploadStatusResponse reports session state and registered parts for resume
type UploadStatusResponse struct {
	UploadID     string        `json:"upload_id"`
	ObjectKey    string        `json:"object_key"`
	Filename     string        `json:"filename"`
	State        SessionState  `json:"state"`
	ExpectedSize int64         `json:"expected_size"`
	PartSize     int64         `json:"part_size"`
	TotalParts   int           `json:"total_parts"`
	Parts        []PartReceipt `json:"parts"`
	LastActivity time.Time     `json:"last_activity"`
}
