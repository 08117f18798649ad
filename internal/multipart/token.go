package multipart

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest signing secret NewTokenCodec accepts
const MinSecretLength = 32

// hkdfInfo binds derived keys to this token format
const hkdfInfo = "partstream part token v1"

var (
	// ErrMalformed is returned for tokens that do not decode or lack a required field
	ErrMalformed = errors.New("malformed part token")
	// ErrExpired is returned for correctly signed tokens past their expiry
	ErrExpired = errors.New("part token expired")
	// ErrInvalidSignature is returned when the MAC does not match the claims
	ErrInvalidSignature = errors.New("part token signature invalid")
)

// PartClaims identifies the one part a token authorizes.
type PartClaims struct {
	OwnerID    string
	ObjectKey  string
	UploadID   string
	PartNumber int
}

// PartAuthorization is a verified token.
type PartAuthorization struct {
	PartClaims
	ExpiresAt time.Time
}

type tokenEnvelope struct {
	OwnerID    string `json:"owner_id"`
	Key        string `json:"key"`
	UploadID   string `json:"upload_id"`
	PartNumber int    `json:"part_number"`
	Expires    int64  `json:"expires"` // unix milliseconds
	Signature  string `json:"signature"`
}

// TokenCodec issues and verifies stateless part tokens. It is safe for
// concurrent use; the key never changes after construction.
type TokenCodec struct {
	key []byte
	now func() time.Time
}

// NewTokenCodec derives the MAC key from secret with HKDF-SHA256.
// now defaults to time.Now.
func NewTokenCodec(secret []byte, now func() time.Time) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	if now == nil {
		now = time.Now
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive token key: %w", err)
	}

	return &TokenCodec{key: key, now: now}, nil
}

// Now returns the codec's clock reading.
func (c *TokenCodec) Now() time.Time {
	return c.now()
}

// Issue signs claims with an expiry ttl from now.
func (c *TokenCodec) Issue(claims PartClaims, ttl time.Duration) (string, error) {
	return c.IssueAt(claims, c.now().Add(ttl))
}

// IssueAt signs claims with an explicit expiry, truncated to milliseconds.
func (c *TokenCodec) IssueAt(claims PartClaims, expiresAt time.Time) (string, error) {
	if claims.OwnerID == "" || claims.ObjectKey == "" || claims.UploadID == "" || claims.PartNumber < 1 {
		return "", fmt.Errorf("%w: incomplete claims", ErrMalformed)
	}

	expires := expiresAt.UnixMilli()
	env := tokenEnvelope{
		OwnerID:    claims.OwnerID,
		Key:        claims.ObjectKey,
		UploadID:   claims.UploadID,
		PartNumber: claims.PartNumber,
		Expires:    expires,
		Signature:  hex.EncodeToString(c.sign(claims, expires)),
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode part token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify decodes token and checks structure, then signature, then expiry.
func (c *TokenCodec) Verify(token string) (*PartAuthorization, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformed
	}

	var env tokenEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, ErrMalformed
	}

	if env.OwnerID == "" || env.Key == "" || env.UploadID == "" ||
		env.PartNumber < 1 || env.Expires == 0 || env.Signature == "" {
		return nil, ErrMalformed
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return nil, ErrMalformed
	}

	claims := PartClaims{
		OwnerID:    env.OwnerID,
		ObjectKey:  env.Key,
		UploadID:   env.UploadID,
		PartNumber: env.PartNumber,
	}
	if !hmac.Equal(sig, c.sign(claims, env.Expires)) {
		return nil, ErrInvalidSignature
	}

	expiresAt := time.UnixMilli(env.Expires).UTC()
	if c.now().After(expiresAt) {
		return nil, ErrExpired
	}

	return &PartAuthorization{PartClaims: claims, ExpiresAt: expiresAt}, nil
}

// sign computes the MAC over length-prefixed fields so no boundary can shift.
func (c *TokenCodec) sign(claims PartClaims, expires int64) []byte {
	mac := hmac.New(sha256.New, c.key)
	for _, field := range []string{claims.OwnerID, claims.ObjectKey, claims.UploadID} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		mac.Write(n[:])
		mac.Write([]byte(field))
	}
	var fixed [16]byte
	binary.BigEndian.PutUint64(fixed[:8], uint64(claims.PartNumber))
	binary.BigEndian.PutUint64(fixed[8:], uint64(expires))
	mac.Write(fixed[:])
	return mac.Sum(nil)
}
