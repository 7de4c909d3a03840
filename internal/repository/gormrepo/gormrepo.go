// Package gormrepo is the GORM implementation of the credential and refresh
// token stores. It is selected with STORE_DRIVER=gorm and shares the schema
// created by the goose migrations.
package gormrepo

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/afyatrack/afyatrack-api/internal/database"
	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

// Open wraps an existing connection pool in a GORM handle so both store
// drivers share one pool.
func Open(conn *sql.DB) (*gorm.DB, error) {
	return gorm.Open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), Config())
}

// Config is the GORM configuration used by every dialect.
func Config() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// AutoMigrate creates the tables used by this package. Production schemas
// come from goose; this is for tests and throwaway databases.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&userRecord{}, &refreshTokenRecord{})
}

type userRecord struct {
	ID           uint64 `gorm:"primaryKey"`
	Email        string `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string `gorm:"size:255;not null"`
	FirstName    string `gorm:"size:100;not null"`
	LastName     string `gorm:"size:100;not null"`
	Role         string `gorm:"size:20;not null"`
	FacilityID   *uint64
	IsActive     bool `gorm:"not null"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toModel() model.User {
	return model.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Role:         model.Role(r.Role),
		FacilityID:   r.FacilityID,
		IsActive:     r.IsActive,
		LastLoginAt:  r.LastLoginAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type refreshTokenRecord struct {
	ID          uint64    `gorm:"primaryKey"`
	UserID      uint64    `gorm:"not null;index"`
	TokenHash   string    `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt   time.Time `gorm:"not null;index"`
	Revoked     bool      `gorm:"not null"`
	RevokedAt   *time.Time
	RevokedByIP *string `gorm:"column:revoked_by_ip;size:45"`
	CreatedByIP *string `gorm:"column:created_by_ip;size:45"`
	CreatedAt   time.Time
}

func (refreshTokenRecord) TableName() string { return "refresh_tokens" }

func (r refreshTokenRecord) toModel() model.RefreshToken {
	return model.RefreshToken{
		ID:          r.ID,
		UserID:      r.UserID,
		TokenHash:   r.TokenHash,
		ExpiresAt:   r.ExpiresAt,
		Revoked:     r.Revoked,
		RevokedAt:   r.RevokedAt,
		RevokedByIP: deref(r.RevokedByIP),
		CreatedByIP: deref(r.CreatedByIP),
		CreatedAt:   r.CreatedAt,
	}
}

// nullIP stores an unknown client address as NULL, like the SQL store.
func nullIP(ip string) *string {
	if ip == "" {
		return nil
	}
	return &ip
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// translate maps GORM and driver errors onto the repository sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), database.IsDuplicateKey(err):
		return repository.ErrEmailExists
	}
	return err
}
