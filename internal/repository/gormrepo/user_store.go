package gormrepo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

// UserStore is the GORM credential store.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore { return &UserStore{db: db} }

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	rec := userRecord{
		Email:        repository.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         string(u.Role),
		FacilityID:   u.FacilityID,
		IsActive:     u.IsActive,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if err = translate(err); err == repository.ErrEmailExists {
			return err
		}
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = rec.ID
	u.Email = rec.Email
	u.CreatedAt = rec.CreatedAt
	u.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("email = ?", repository.NormalizeEmail(email)).Take(&rec).Error
	if err != nil {
		return model.User{}, translate(err)
	}
	return rec.toModel(), nil
}

func (s *UserStore) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var rec userRecord
	if err := s.db.WithContext(ctx).Take(&rec, id).Error; err != nil {
		return model.User{}, translate(err)
	}
	return rec.toModel(), nil
}

func (s *UserStore) TouchLastLogin(ctx context.Context, id uint64, at time.Time) error {
	return s.update(ctx, id, map[string]any{"last_login_at": at.UTC()})
}

func (s *UserStore) UpdatePassword(ctx context.Context, id uint64, hash string) error {
	return s.update(ctx, id, map[string]any{"password_hash": hash})
}

func (s *UserStore) UpdateProfile(ctx context.Context, id uint64, firstName, lastName string) error {
	return s.update(ctx, id, map[string]any{"first_name": firstName, "last_name": lastName})
}

func (s *UserStore) SetActive(ctx context.Context, id uint64, active bool) error {
	return s.update(ctx, id, map[string]any{"is_active": active})
}

func (s *UserStore) update(ctx context.Context, id uint64, cols map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
