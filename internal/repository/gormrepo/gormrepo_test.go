package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), Config())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func seedUser(t *testing.T, users *UserStore) model.User {
	t.Helper()
	u := model.User{Email: "Nurse@Clinic.org", PasswordHash: "h", FirstName: "N", LastName: "Urse", Role: model.RoleNurse, IsActive: true}
	require.NoError(t, users.Create(context.Background(), &u))
	return u
}

func TestUserStore_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	ctx := context.Background()

	u := seedUser(t, users)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "nurse@clinic.org", u.Email)

	got, err := users.GetByEmail(ctx, " NURSE@clinic.org")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, model.RoleNurse, got.Role)

	_, err = users.GetByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	dup := model.User{Email: "nurse@clinic.org", PasswordHash: "h", Role: model.RoleNurse}
	assert.ErrorIs(t, users.Create(ctx, &dup), repository.ErrEmailExists)
}

func TestUserStore_Updates(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	ctx := context.Background()
	u := seedUser(t, users)

	require.NoError(t, users.UpdatePassword(ctx, u.ID, "h2"))
	require.NoError(t, users.UpdateProfile(ctx, u.ID, "Neema", "Wanjiru"))
	require.NoError(t, users.SetActive(ctx, u.ID, false))

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, "Neema", got.FirstName)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, users.UpdatePassword(ctx, 404, "x"), repository.ErrNotFound)
}

func TestTokenStore_RotateOnce(t *testing.T) {
	db := newTestDB(t)
	users := NewUserStore(db)
	tokens := NewTokenStore(db)
	ctx := context.Background()
	u := seedUser(t, users)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "h1", ExpiresAt: now.Add(time.Hour)}))

	next := &model.RefreshToken{TokenHash: "h2", ExpiresAt: now.Add(2 * time.Hour)}
	uid, err := tokens.Rotate(ctx, "h1", now, "10.1.1.1", next)
	require.NoError(t, err)
	assert.Equal(t, u.ID, uid)
	assert.Equal(t, u.ID, next.UserID)

	old, err := tokens.GetByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	assert.Equal(t, "10.1.1.1", old.RevokedByIP)

	_, err = tokens.Rotate(ctx, "h1", now, "", &model.RefreshToken{TokenHash: "h3", ExpiresAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = tokens.GetByHash(ctx, "h3")
	assert.ErrorIs(t, err, repository.ErrNotFound, "failed rotation must not insert")
}

func TestTokenStore_RotateExpired(t *testing.T) {
	db := newTestDB(t)
	tokens := NewTokenStore(db)
	u := seedUser(t, NewUserStore(db))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "old", ExpiresAt: now.Add(-time.Minute)}))
	_, err := tokens.Rotate(ctx, "old", now, "", &model.RefreshToken{TokenHash: "new", ExpiresAt: now.Add(time.Hour)})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTokenStore_RevokeAndSweep(t *testing.T) {
	db := newTestDB(t)
	tokens := NewTokenStore(db)
	u := seedUser(t, NewUserStore(db))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		hash string
		exp  time.Time
	}{
		{"live", now.Add(time.Hour)},
		{"gone", now.Add(-time.Hour)},
		{"edge", now},
		{"rev", now.Add(time.Hour)},
	} {
		require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: tc.hash, ExpiresAt: tc.exp}))
	}

	require.NoError(t, tokens.Revoke(ctx, "rev", now, ""))
	require.NoError(t, tokens.Revoke(ctx, "rev", now, ""), "second revoke is a no-op")
	assert.ErrorIs(t, tokens.Revoke(ctx, "nope", now, ""), repository.ErrNotFound)

	n, err := tokens.DeleteInactive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = tokens.GetByHash(ctx, "live")
	require.NoError(t, err)

	revoked, err := tokens.RevokeAllForUser(ctx, u.ID, now, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked)
}

func TestTokenStore_EmptyIPStoredAsNull(t *testing.T) {
	db := newTestDB(t)
	tokens := NewTokenStore(db)
	u := seedUser(t, NewUserStore(db))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "a", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "b", ExpiresAt: now.Add(time.Hour), CreatedByIP: "10.0.0.9"}))
	require.NoError(t, tokens.Revoke(ctx, "a", now, ""))
	_, err := tokens.Rotate(ctx, "b", now, "", &model.RefreshToken{TokenHash: "c", ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	var nullCreated, nullRevoked int64
	require.NoError(t, db.Table("refresh_tokens").Where("created_by_ip IS NULL").Count(&nullCreated).Error)
	require.NoError(t, db.Table("refresh_tokens").Where("revoked = ? AND revoked_by_ip IS NULL", true).Count(&nullRevoked).Error)
	assert.Equal(t, int64(2), nullCreated)
	assert.Equal(t, int64(2), nullRevoked)

	b, err := tokens.GetByHash(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", b.CreatedByIP)
	assert.Empty(t, b.RevokedByIP)
}

func TestTokenStore_ConcurrentRotateSingleWinner(t *testing.T) {
	db := newTestDB(t)
	tokens := NewTokenStore(db)
	u := seedUser(t, NewUserStore(db))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "shared", ExpiresAt: now.Add(time.Hour)}))

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		notFound int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			next := &model.RefreshToken{TokenHash: fmt.Sprintf("next-%d", i), ExpiresAt: now.Add(time.Hour)}
			_, err := tokens.Rotate(ctx, "shared", now, "10.0.0.1", next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repository.ErrNotFound):
				notFound++
			default:
				t.Errorf("rotate: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, notFound)

	var live int64
	require.NoError(t, db.Table("refresh_tokens").Where("revoked = ?", false).Count(&live).Error)
	assert.Equal(t, int64(1), live, "only the winner's token is inserted")
}
