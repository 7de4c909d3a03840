package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

// TokenRepo persists refresh tokens by their SHA-256 hash. Rows are revoked,
// never deleted, except by DeleteInactive.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

const insertRefreshSQL = "INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_by_ip) VALUES (?,?,?,?)"

// Create inserts a refresh token row and sets its ID.
func (r *TokenRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	return insertRefresh(ctx, r.DB, t)
}

func insertRefresh(ctx context.Context, db DBTX, t *model.RefreshToken) error {
	res, err := db.ExecContext(ctx, insertRefreshSQL, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), nullString(t.CreatedByIP))
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = uint64(id)
	}
	return nil
}

// GetByHash returns the row for a token hash or ErrNotFound.
func (r *TokenRepo) GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
		revokedBy sql.NullString
		createdBy sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, revoked, revoked_at, revoked_by_ip, created_by_ip, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &revokedAt, &revokedBy, &createdBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, fmt.Errorf("get refresh token: %w", err)
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.RevokedByIP = revokedBy.String
	t.CreatedByIP = createdBy.String
	return t, nil
}

// Rotate exchanges the token identified by oldHash for next inside one
// transaction. The old row is revoked with a conditional UPDATE that only
// matches a usable token, so of two concurrent rotations of the same token
// exactly one affects a row; the other gets ErrNotFound. next.UserID is
// filled from the old row before insertion. It returns the owning user id.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, now time.Time, ip string, next *model.RefreshToken) (uint64, error) {
	var userID uint64
	err := WithTx(ctx, r.DB, nil, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked=1, revoked_at=?, revoked_by_ip=? WHERE token_hash=? AND revoked=0 AND expires_at > ?",
			now.UTC(), nullString(ip), oldHash, now.UTC())
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if n != 1 {
			return ErrNotFound
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT user_id FROM refresh_tokens WHERE token_hash=?", oldHash).Scan(&userID); err != nil {
			return fmt.Errorf("load refresh token owner: %w", err)
		}
		next.UserID = userID
		return insertRefresh(ctx, tx, next)
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// Revoke marks a single token revoked. Revoking an already revoked token is
// a no-op; an unknown hash yields ErrNotFound.
func (r *TokenRepo) Revoke(ctx context.Context, tokenHash string, now time.Time, ip string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=?, revoked_by_ip=? WHERE token_hash=? AND revoked=0",
		now.UTC(), nullString(ip), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var one int
	err = r.DB.QueryRowContext(ctx, "SELECT 1 FROM refresh_tokens WHERE token_hash=?", tokenHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active token of a user and returns how
// many rows changed.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time, ip string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked=1, revoked_at=?, revoked_by_ip=? WHERE user_id=? AND revoked=0",
		now.UTC(), nullString(ip), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteInactive removes rows that can never be used again: revoked ones
// and those expired at or before now.
func (r *TokenRepo) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE revoked=1 OR expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
