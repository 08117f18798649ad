package models

import "time"

// APIToken represents a bearer token in the database
type APIToken struct {
	ID          int64
	OwnerID     string
	Name        string
	TokenHash   string     // SHA-256 hash of full token
	TokenPrefix string     // First chars for identification (e.g., "pst_a1b2c3d4")
	ExpiresAt   *time.Time // NULL = never expires
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	IsActive    bool
}
