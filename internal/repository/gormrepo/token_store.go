package gormrepo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

// TokenStore is the GORM refresh token store. It has the same semantics as
// repository.TokenRepo.
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore { return &TokenStore{db: db} }

func (s *TokenStore) Create(ctx context.Context, t *model.RefreshToken) error {
	return insertToken(s.db.WithContext(ctx), t)
}

func insertToken(db *gorm.DB, t *model.RefreshToken) error {
	rec := refreshTokenRecord{
		UserID:      t.UserID,
		TokenHash:   t.TokenHash,
		ExpiresAt:   t.ExpiresAt.UTC(),
		CreatedByIP: nullIP(t.CreatedByIP),
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	t.ID = rec.ID
	t.CreatedAt = rec.CreatedAt
	return nil
}

func (s *TokenStore) GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var rec refreshTokenRecord
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&rec).Error; err != nil {
		return model.RefreshToken{}, translate(err)
	}
	return rec.toModel(), nil
}

// Rotate revokes the usable token oldHash and inserts next for the same
// user in one transaction. Only one of several concurrent callers can match
// the conditional update; the rest get repository.ErrNotFound.
func (s *TokenStore) Rotate(ctx context.Context, oldHash string, now time.Time, ip string, next *model.RefreshToken) (uint64, error) {
	now = now.UTC()
	var userID uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&refreshTokenRecord{}).
			Where("token_hash = ? AND revoked = ? AND expires_at > ?", oldHash, false, now).
			Updates(map[string]any{"revoked": true, "revoked_at": now, "revoked_by_ip": nullIP(ip)})
		if res.Error != nil {
			return fmt.Errorf("revoke refresh token: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return repository.ErrNotFound
		}
		var old refreshTokenRecord
		if err := tx.Select("user_id").Where("token_hash = ?", oldHash).Take(&old).Error; err != nil {
			return fmt.Errorf("load refresh token owner: %w", err)
		}
		userID = old.UserID
		next.UserID = userID
		return insertToken(tx, next)
	})
	if err != nil {
		return 0, err
	}
	return userID, nil
}

func (s *TokenStore) Revoke(ctx context.Context, tokenHash string, now time.Time, ip string) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&refreshTokenRecord{}).
		Where("token_hash = ? AND revoked = ?", tokenHash, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now.UTC(), "revoked_by_ip": nullIP(ip)})
	if res.Error != nil {
		return fmt.Errorf("revoke refresh token: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := db.Model(&refreshTokenRecord{}).Where("token_hash = ?", tokenHash).Count(&n).Error; err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *TokenStore) RevokeAllForUser(ctx context.Context, userID uint64, now time.Time, ip string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&refreshTokenRecord{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now.UTC(), "revoked_by_ip": nullIP(ip)})
	if res.Error != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *TokenStore) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("revoked = ? OR expires_at <= ?", true, now.UTC()).
		Delete(&refreshTokenRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
