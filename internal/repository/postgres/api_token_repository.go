package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/partstream/internal/models"
	"github.com/fjmerc/partstream/internal/repository"
)

// API token limits.
const (
	maxAPITokenNameLen   = 100
	expectedTokenHashLen = 64 // SHA-256 as hex
	maxTokenPrefixLen    = 16
)

// APITokenRepository implements repository.APITokenRepository for PostgreSQL.
type APITokenRepository struct {
	pool *Pool
}

// NewAPITokenRepository creates a new PostgreSQL API token repository.
func NewAPITokenRepository(pool *Pool) *APITokenRepository {
	return &APITokenRepository{pool: pool}
}

const tokenColumns = `id, owner_id, name, token_hash, token_prefix, expires_at, last_used_at, created_at, is_active`

func scanToken(row pgx.Row) (*models.APIToken, error) {
	var t models.APIToken
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.TokenHash, &t.TokenPrefix, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt, &t.IsActive); err != nil {
		return nil, err
	}
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

	err := r.pool.QueryRow(ctx,
		`INSERT INTO api_tokens (owner_id, name, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, is_active`,
		token.OwnerID, token.Name, token.TokenHash, token.TokenPrefix, token.ExpiresAt).
		Scan(&token.ID, &token.CreatedAt, &token.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create API token: %w", err)
	}
	return nil
}

// GetByHash retrieves an active, unexpired token by hash.
func (r *APITokenRepository) GetByHash(ctx context.Context, tokenHash string) (*models.APIToken, error) {
	t, err := scanToken(r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens
		WHERE token_hash = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())`,
		tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get API token: %w", err)
	}
	return t, nil
}

// UpdateLastUsed records token usage.
func (r *APITokenRepository) UpdateLastUsed(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

// ListByOwner returns all tokens belonging to ownerID, newest first.
func (r *APITokenRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.APIToken, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
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
	tag, err := r.pool.Exec(ctx, `UPDATE api_tokens SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke API token: %w", err)
	}
	return rowsAffectedOrNotFound(tag)
}

// CleanupExpired removes expired tokens.
func (r *APITokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired API tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
