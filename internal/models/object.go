package models

import "time"

// StoredObject represents a completed upload
type StoredObject struct {
	ObjectKey   string    `json:"key"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	TotalSize   int64     `json:"size"`
	ETag        string    `json:"etag"`
	UploadID    string    `json:"upload_id,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// ObjectListResponse lists an owner's objects, newest first
type ObjectListResponse struct {
	Objects []StoredObject `json:"objects"`
}

// ObjectDeleteResponse confirms a deletion
type ObjectDeleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// ErrorResponse is the JSON error response
type ErrorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	ExpectedPart int    `json:"expected_part,omitempty"`
	PartNumber   int    `json:"part_number,omitempty"`
}

// HealthResponse is the JSON response for the health check endpoint
type HealthResponse struct {
	Status        string            `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	OpenSessions  int               `json:"open_sessions"`
	DatabaseMS    int64             `json:"database_latency_ms"`
}
