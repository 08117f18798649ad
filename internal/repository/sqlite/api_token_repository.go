package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// API token limits.
const (
	maxAPITokenNameLen   = 100
	expectedTokenHashLen = 64 // SHA-256 as hex
	maxTokenPrefixLen    = 16
)

// APITokenRepository implements repository.APITokenRepository for SQLite.
type APITokenRepository struct {
	db *sql.DB
}

// NewAPITokenRepository creates a new SQLite API token repository.
func NewAPITokenRepository(db *sql.DB) *APITokenRepository {
	return &APITokenRepository{db: db}
}

const tokenColumns = `id, owner_id, name, token_hash, token_prefix, expires_at, last_used_at, created_at, is_active`

func scanToken(row rowScanner) (*models.APIToken, error) {
	var (
		t          models.APIToken
		expiresAt  sql.NullString
		lastUsedAt sql.NullString
		createdAt  string
		isActive   int
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.TokenHash, &t.TokenPrefix, &expiresAt, &lastUsedAt, &createdAt, &isActive); err != nil {
		return nil, err
	}

	var err error
	if t.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	if t.LastUsedAt, err = parseNullTime(lastUsedAt); err != nil {
		return nil, fmt.Errorf("invalid last_used_at: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	t.IsActive = isActive != 0
	return &t, nil
}

// Create inserts a new API token.
func (r *APITokenRepository) Create(ctx context.Context, token *models.APIToken) error {
	if token == nil {
		return repository.ErrInvalidInput
	}
	if token.OwnerID == "" {
		return fmt.Errorf("%w: owner_id cannot be empty", repository.ErrInvalidInput)
	}
	if token.Name == "" || len(token.Name) > maxAPITokenNameLen {
		return fmt.Errorf("%w: name must be 1-%d chars", repository.ErrInvalidInput, maxAPITokenNameLen)
	}
	if len(token.TokenHash) != expectedTokenHashLen {
		return fmt.Errorf("%w: token_hash must be %d characters", repository.ErrInvalidInput, expectedTokenHashLen)
	}
	if token.TokenPrefix == "" || len(token.TokenPrefix) > maxTokenPrefixLen {
		return fmt.Errorf("%w: token_prefix invalid length", repository.ErrInvalidInput)
	}

	token.CreatedAt = nowUTC()
	token.IsActive = true

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO api_tokens (owner_id, name, token_hash, token_prefix, expires_at, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		token.OwnerID, token.Name, token.TokenHash, token.TokenPrefix, formatNullTime(token.ExpiresAt), formatTime(token.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create API token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get token ID: %w", err)
	}
	token.ID = id
	return nil
}

// GetByHash retrieves an active, unexpired token by hash.
func (r *APITokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	t, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens
		WHERE token_hash = ? AND is_active = 1 AND (expires_at IS NULL OR expires_at > ?)`,
		tokenHash, formatTime(nowUTC())))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get API token: %w", err)
	}
	return t, nil
}

// UpdateLastUsed records token usage.
func (r *APITokenRepository) UpdateLastUsed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, formatTime(nowUTC()), id); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// ListByOwner returns all tokens belonging to ownerID, newest first.
func (r *APITokenRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.APIToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API tokens: %w", err)
	}
	return tokens, nil
}

// Revoke deactivates a token.
func (r *APITokenRepository) Revoke(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE api_tokens SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke API token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CleanupExpired removes expired tokens.
func (r *APITokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= ?`, formatTime(nowUTC()))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired API tokens: %w", err)
	}
	return result.RowsAffected()
}
