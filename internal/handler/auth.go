package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/middleware"
	"github.com/afyatrack/afyatrack-api/internal/model"
)

// AuthService is the part of auth.TokenService the auth endpoints use.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput, clientIP string) (auth.Session, error)
	Login(ctx context.Context, email, password, clientIP string) (auth.Session, error)
	RotateRefreshToken(ctx context.Context, raw, clientIP string) (auth.Session, error)
	Revoke(ctx context.Context, raw, clientIP string) error
	RevokeAll(ctx context.Context, userID uint64, clientIP string) (int64, error)
	ChangePassword(ctx context.Context, userID uint64, current, next, clientIP string) error
	Deactivate(ctx context.Context, userID uint64, clientIP string) error
	Profile(ctx context.Context, userID uint64) (model.User, error)
	UpdateProfile(ctx context.Context, userID uint64, firstName, lastName string) (model.User, error)
	CreateUser(ctx context.Context, in auth.RegisterInput) (model.User, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	svc     AuthService
	timeout time.Duration
}

func NewAuthHandler(svc AuthService) *AuthHandler {
	return &AuthHandler{svc: svc, timeout: 5 * time.Second}
}

// ----- DTOs -----

type registerReq struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}
type createUserReq struct {
	registerReq
	FacilityID *uint64 `json:"facility_id"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}
type profileReq struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type userResp struct {
	ID          uint64     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Role        model.Role `json:"role"`
	FacilityID  *uint64    `json:"facility_id,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type authResp struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             userResp  `json:"user"`
}

func toUserResp(u model.User) userResp {
	return userResp{
		ID:          u.ID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
		FacilityID:  u.FacilityID,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toAuthResp(s auth.Session) authResp {
	return authResp{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		ExpiresAt:        s.AccessExpiresAt,
		RefreshExpiresAt: s.RefreshExpiresAt,
		User:             toUserResp(s.User),
	}
}

func (h *AuthHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.timeout)
}

// Register is the public signup. The account is a nurse without a facility.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	s, err := h.svc.Register(ctx, auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      model.Role(strings.ToLower(strings.TrimSpace(req.Role))),
	}, c.RealIP())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(s))
}

// CreateUser provisions an account with any role and facility (admin only).
// No tokens are issued; the new user logs in.
func (h *AuthHandler) CreateUser(c echo.Context) error {
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" || strings.TrimSpace(req.Role) == "" {
		return badRequest(c, "email/password/role required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.svc.CreateUser(ctx, auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Role:       model.Role(strings.ToLower(strings.TrimSpace(req.Role))),
		FacilityID: req.FacilityID,
		AllowAdmin: true,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toUserResp(u))
}

// Login verifies credentials and returns a new pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	s, err := h.svc.Login(ctx, req.Email, req.Password, c.RealIP())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(s))
}

// Refresh rotates the presented refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	s, err := h.svc.RotateRefreshToken(ctx, req.RefreshToken, c.RealIP())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(s))
}

// Logout revokes one refresh token. The access token presented alongside,
// if any, stays valid until it expires.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.svc.Revoke(ctx, req.RefreshToken, c.RealIP()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every refresh token of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return fail(c, auth.ErrInvalidToken)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	n, err := h.svc.RevokeAll(ctx, id.UserID, c.RealIP())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": n})
}

// ChangePassword replaces the caller's password and ends all sessions.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return fail(c, auth.ErrInvalidToken)
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		return badRequest(c, "current_password/new_password required")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.svc.ChangePassword(ctx, id.UserID, req.CurrentPassword, req.NewPassword, c.RealIP()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's stored profile.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return fail(c, auth.ErrInvalidToken)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.svc.Profile(ctx, id.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

// UpdateMe changes the caller's names.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return fail(c, auth.ErrInvalidToken)
	}
	var req profileReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.svc.UpdateProfile(ctx, id.UserID, req.FirstName, req.LastName)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toUserResp(u))
}

// Deactivate disables another user's account (admin only).
func (h *AuthHandler) Deactivate(c echo.Context) error {
	caller, _ := middleware.IdentityFrom(c)
	target, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || target == 0 {
		return badRequest(c, "invalid id")
	}
	if target == caller.UserID {
		return badRequest(c, "cannot deactivate yourself")
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	if err := h.svc.Deactivate(ctx, target, c.RealIP()); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
