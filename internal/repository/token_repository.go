package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wishary/wishary-auth-api/internal/models"
)

// TokenRepository persists refresh-token families and the rows of every
// token issued under them. The rows are the durable revocation and audit
// trail; the fast-path validity check lives in the session store.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateFamily inserts a new refresh-token family row.
func (r *TokenRepository) CreateFamily(ctx context.Context, family *models.RefreshTokenFamily) error {
	const query = `INSERT INTO refresh_token_families (id, user_id, invalidated, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, family.ID, family.UserID, family.Invalidated, family.CreatedAt, family.UpdatedAt); err != nil {
		return fmt.Errorf("create refresh token family: %w", err)
	}
	return nil
}

// FindFamily returns a family by identifier.
func (r *TokenRepository) FindFamily(ctx context.Context, id string) (*models.RefreshTokenFamily, error) {
	const query = `SELECT id, user_id, invalidated, invalidated_at, created_at, updated_at FROM refresh_token_families WHERE id = $1 LIMIT 1`
	var family models.RefreshTokenFamily
	if err := r.db.GetContext(ctx, &family, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token family: %w", err)
	}
	return &family, nil
}

// InvalidateFamily marks a family revoked. Every token ever issued under it
// is dead from this point on, which is the mechanism behind sign-out and
// reuse-detection lockout.
func (r *TokenRepository) InvalidateFamily(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE refresh_token_families SET invalidated = TRUE, invalidated_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("invalidate refresh token family: %w", err)
	}
	return nil
}

// InvalidateFamiliesForUser revokes every family belonging to a user
// ("sign out everywhere").
func (r *TokenRepository) InvalidateFamiliesForUser(ctx context.Context, userID string, at time.Time) error {
	const query = `UPDATE refresh_token_families SET invalidated = TRUE, invalidated_at = $2, updated_at = $2 WHERE user_id = $1 AND invalidated = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, at); err != nil {
		return fmt.Errorf("invalidate families for user: %w", err)
	}
	return nil
}

// CreateToken inserts a refresh-token row under an existing family.
func (r *TokenRepository) CreateToken(ctx context.Context, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (id, family_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, token.ID, token.FamilyID, token.ExpiresAt, token.CreatedAt); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// MarkTokenRotated records that a token was consumed by a rotation.
func (r *TokenRepository) MarkTokenRotated(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE refresh_tokens SET rotated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark refresh token rotated: %w", err)
	}
	return nil
}

// DeleteExpired prunes token rows past their expiry and the families that no
// longer have any live token. Run by the background cleanup job.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const tokensQuery = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, tokensQuery, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	const familiesQuery = `DELETE FROM refresh_token_families f WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.family_id = f.id)`
	if _, err := r.db.ExecContext(ctx, familiesQuery); err != nil {
		return deleted, fmt.Errorf("delete orphaned families: %w", err)
	}

	return deleted, nil
}
