// Package auth is the token service: it issues, verifies, rotates and
// revokes access/refresh token pairs and owns the login, registration and
// password flows built on them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/queue"
	"github.com/afyatrack/afyatrack-api/internal/repository"
	"github.com/afyatrack/afyatrack-api/internal/utils"
)

// UserStore is the credential store. Lookups return repository.ErrNotFound
// for a missing user and Create returns repository.ErrEmailExists.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	TouchLastLogin(ctx context.Context, id uint64, at time.Time) error
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	UpdateProfile(ctx context.Context, id uint64, firstName, lastName string) error
	SetActive(ctx context.Context, id uint64, active bool) error
}

// TokenStore persists refresh tokens by hash. Rotate and Revoke return
// repository.ErrNotFound when no usable (resp. known) row matches.
type TokenStore interface {
	Create(ctx context.Context, t *model.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	Rotate(ctx context.Context, oldHash string, now time.Time, ip string, next *model.RefreshToken) (uint64, error)
	Revoke(ctx context.Context, tokenHash string, now time.Time, ip string) error
	RevokeAllForUser(ctx context.Context, userID uint64, now time.Time, ip string) (int64, error)
	DeleteInactive(ctx context.Context, now time.Time) (int64, error)
}

// EventPublisher receives auth events. Failures are logged, never returned
// to the caller of the service.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.AuthEvent) error
}

// Options configures token lifetimes and hashing.
type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
}

// TokenPair is what a client receives after login, registration or
// rotation. RefreshToken is the raw value; only its hash is stored.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session is a token pair together with the user it was issued to.
type Session struct {
	TokenPair
	User model.User
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Role       model.Role
	FacilityID *uint64
	// AllowAdmin permits creating admin accounts. Register ignores it.
	AllowAdmin bool
}

// TokenService implements the token lifecycle on top of the stores.
type TokenService struct {
	users  UserStore
	tokens TokenStore
	events EventPublisher
	log    zerolog.Logger
	opts   Options

	now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewTokenService wires a service. events may be nil.
func NewTokenService(users UserStore, tokens TokenStore, events EventPublisher, opts Options, log zerolog.Logger) *TokenService {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 12
	}
	return &TokenService{
		users:  users,
		tokens: tokens,
		events: events,
		log:    log,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IssueTokenPair mints an access token for id and a fresh refresh token,
// persisting the refresh token's hash. On a storage failure no pair is
// returned.
func (s *TokenService) IssueTokenPair(ctx context.Context, id model.Identity, clientIP string) (TokenPair, error) {
	now := s.now()
	access, err := utils.NewAccessToken(s.opts.Secret, id, s.opts.AccessTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := utils.NewRefreshToken(s.opts.RefreshTTL, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	row := &model.RefreshToken{
		UserID:      id.UserID,
		TokenHash:   refresh.Hash,
		ExpiresAt:   refresh.Exp,
		CreatedByIP: clientIP,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.Exp,
		RefreshExpiresAt: refresh.Exp,
	}, nil
}

// VerifyAccessToken checks signature, algorithm and expiry and returns the
// caller identity. It never touches storage, so a token stays valid until
// exp even after logout.
func (s *TokenService) VerifyAccessToken(token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, ErrInvalidToken
	}
	claims, err := utils.ParseAccessToken(s.opts.Secret, token, s.now())
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return model.Identity{}, ErrExpiredToken
		}
		return model.Identity{}, ErrInvalidToken
	}
	id, err := claims.Identity()
	if err != nil {
		return model.Identity{}, ErrInvalidToken
	}
	return id, nil
}

// RotateRefreshToken exchanges a usable refresh token for a new pair. The
// old token is revoked and the new one stored atomically; a second
// presentation of the same token fails.
func (s *TokenService) RotateRefreshToken(ctx context.Context, raw, clientIP string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrInvalidOrExpiredRefreshToken
	}
	now := s.now()
	refresh, err := utils.NewRefreshToken(s.opts.RefreshTTL, now)
	if err != nil {
		return Session{}, fmt.Errorf("generate refresh token: %w", err)
	}
	next := &model.RefreshToken{
		TokenHash:   refresh.Hash,
		ExpiresAt:   refresh.Exp,
		CreatedByIP: clientIP,
	}

	userID, err := s.tokens.Rotate(ctx, utils.HashRefreshRaw(raw), now, clientIP, next)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.emit(ctx, queue.AuthEvent{Type: queue.EventRefreshRejected, IP: clientIP})
			return Session{}, ErrInvalidOrExpiredRefreshToken
		}
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err != nil || !u.IsActive {
		if _, rerr := s.tokens.RevokeAllForUser(ctx, userID, now, clientIP); rerr != nil {
			s.log.Error().Err(rerr).Uint64("user_id", userID).Msg("revoke tokens of inactive user")
		}
		return Session{}, ErrInvalidOrExpiredRefreshToken
	}

	access, err := utils.NewAccessToken(s.opts.Secret, u.Identity(), s.opts.AccessTTL, now)
	if err != nil {
		return Session{}, fmt.Errorf("sign access token: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventRefresh, UserID: u.ID, Email: u.Email, IP: clientIP})
	return Session{
		TokenPair: TokenPair{
			AccessToken:      access.Token,
			RefreshToken:     refresh.Raw,
			AccessExpiresAt:  access.Exp,
			RefreshExpiresAt: refresh.Exp,
		},
		User: u,
	}, nil
}

// Revoke logs out one session. Revoking an already revoked token succeeds;
// an unknown token is rejected.
func (s *TokenService) Revoke(ctx context.Context, raw, clientIP string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidOrExpiredRefreshToken
	}
	hash := utils.HashRefreshRaw(raw)
	t, err := s.tokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredRefreshToken
		}
		return fmt.Errorf("load refresh token: %w", err)
	}
	if t.Revoked {
		return nil
	}
	if err := s.tokens.Revoke(ctx, hash, s.now(), clientIP); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredRefreshToken
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventLogout, UserID: t.UserID, IP: clientIP})
	return nil
}

// RevokeAll revokes every active refresh token of a user and returns how
// many were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID uint64, clientIP string) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now(), clientIP)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventLogoutAll, UserID: userID, IP: clientIP, Count: n})
	return n, nil
}

// SweepExpired deletes refresh tokens that are revoked or expired.
func (s *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteInactive(ctx, s.now())
}

// Login checks credentials and issues a new pair.
func (s *TokenService) Login(ctx context.Context, email, password, clientIP string) (Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return Session{}, fmt.Errorf("load user: %w", err)
		}
		// same bcrypt cost on the miss path
		utils.VerifyPassword(s.dummy(), password)
		s.emit(ctx, queue.AuthEvent{Type: queue.EventLoginFailed, Email: repository.NormalizeEmail(email), IP: clientIP})
		return Session{}, ErrInvalidCredentials
	}
	if !utils.VerifyPassword(u.PasswordHash, password) || !u.IsActive {
		s.emit(ctx, queue.AuthEvent{Type: queue.EventLoginFailed, UserID: u.ID, Email: u.Email, IP: clientIP})
		return Session{}, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn().Err(err).Uint64("user_id", u.ID).Msg("update last login")
	} else {
		u.LastLoginAt = &now
	}

	pair, err := s.IssueTokenPair(ctx, u.Identity(), clientIP)
	if err != nil {
		return Session{}, err
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventLogin, UserID: u.ID, Email: u.Email, IP: clientIP})
	return Session{TokenPair: pair, User: u}, nil
}

// Register is the self-service signup. It creates a nurse account with no
// facility and issues a pair; other roles and facility assignment go
// through CreateUser from an admin.
func (s *TokenService) Register(ctx context.Context, in RegisterInput, clientIP string) (Session, error) {
	if in.Role != "" && in.Role != model.RoleNurse {
		return Session{}, ErrInvalidRole
	}
	in.Role = model.RoleNurse
	in.FacilityID = nil
	in.AllowAdmin = false

	u, err := s.CreateUser(ctx, in)
	if err != nil {
		return Session{}, err
	}
	pair, err := s.IssueTokenPair(ctx, u.Identity(), clientIP)
	if err != nil {
		return Session{}, err
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventRegister, UserID: u.ID, Email: u.Email, IP: clientIP})
	return Session{TokenPair: pair, User: u}, nil
}

// CreateUser validates in and inserts an active account without issuing
// tokens.
func (s *TokenService) CreateUser(ctx context.Context, in RegisterInput) (model.User, error) {
	email := repository.NormalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.User{}, ErrInvalidEmail
	}
	if err := utils.ValidatePassword(in.Password); err != nil {
		return model.User{}, err
	}
	role := in.Role
	if role == "" {
		role = model.RoleNurse
	}
	if !role.Valid() || (role == model.RoleAdmin && !in.AllowAdmin) {
		return model.User{}, ErrInvalidRole
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if first == "" || last == "" {
		return model.User{}, ErrInvalidName
	}

	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		Role:         role,
		FacilityID:   in.FacilityID,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// ChangePassword verifies the current password, stores the new one and
// revokes every refresh token of the user.
func (s *TokenService) ChangePassword(ctx context.Context, userID uint64, current, next, clientIP string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := utils.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := utils.HashPassword(next, s.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	if _, err := s.tokens.RevokeAllForUser(ctx, userID, s.now(), clientIP); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	s.emit(ctx, queue.AuthEvent{Type: queue.EventPasswordChanged, UserID: u.ID, Email: u.Email, IP: clientIP})
	return nil
}

// Deactivate disables an account and ends all its sessions. Access tokens
// already issued stay valid until they expire.
func (s *TokenService) Deactivate(ctx context.Context, userID uint64, clientIP string) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		return err
	}
	_, err := s.RevokeAll(ctx, userID, clientIP)
	return err
}

// Profile returns the stored user.
func (s *TokenService) Profile(ctx context.Context, userID uint64) (model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile changes the display names and returns the updated user.
func (s *TokenService) UpdateProfile(ctx context.Context, userID uint64, firstName, lastName string) (model.User, error) {
	first, last := strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	if first == "" || last == "" {
		return model.User{}, ErrInvalidName
	}
	if err := s.users.UpdateProfile(ctx, userID, first, last); err != nil {
		return model.User{}, err
	}
	return s.users.GetByID(ctx, userID)
}

func (s *TokenService) emit(ctx context.Context, ev queue.AuthEvent) {
	if s.events == nil {
		return
	}
	ev.At = s.now().Format(time.RFC3339)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Type).Msg("publish auth event")
	}
}

func (s *TokenService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = utils.HashPassword("afyatrack-no-such-user", s.opts.BcryptCost)
	})
	return s.dummyHash
}
