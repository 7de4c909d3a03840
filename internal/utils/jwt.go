package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/afyatrack/afyatrack-api/internal/model"
)

// RefreshTokenBytes is the amount of randomness in a refresh token. The raw
// token handed to clients is its hex encoding.
const RefreshTokenBytes = 64

var (
	// ErrTokenExpired is returned by ParseAccessToken for a well-formed,
	// correctly signed token whose exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers every other verification failure.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the payload of an access token.
type Claims struct {
	Email      string  `json:"email"`
	Role       string  `json:"role"`
	FacilityID *uint64 `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the caller identity.
func (c Claims) Identity() (model.Identity, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return model.Identity{}, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	role := model.Role(c.Role)
	if !role.Valid() {
		return model.Identity{}, fmt.Errorf("%w: bad role", ErrTokenInvalid)
	}
	return model.Identity{UserID: id, Email: c.Email, Role: role, FacilityID: c.FacilityID}, nil
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken is a freshly generated refresh token. Only Hash is ever
// persisted; Raw goes to the client once.
type RefreshToken struct {
	Raw  string
	Hash string
	Exp  time.Time
}

// NewAccessToken builds and signs an HS256 JWT for the identity. Each token
// carries a random jti so two tokens issued in the same second differ.
func NewAccessToken(secret string, id model.Identity, ttl time.Duration, now time.Time) (AccessToken, error) {
	now = now.UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email:      id.Email,
		Role:       string(id.Role),
		FacilityID: id.FacilityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies signature, algorithm and expiry of raw as of
// now. Only HMAC-SHA256 is accepted; "none" and asymmetric algorithms are
// rejected.
func ParseAccessToken(secret, raw string, now time.Time) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

// NewRefreshToken returns a cryptographically secure random token, its
// storage hash and its expiration time.
func NewRefreshToken(ttl time.Duration, now time.Time) (RefreshToken, error) {
	raw, err := randomHex(RefreshTokenBytes)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw:  raw,
		Hash: HashRefreshRaw(raw),
		Exp:  now.UTC().Add(ttl),
	}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a hex
// string. Storing only the hash means a leaked table cannot be replayed.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
