package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// TokenManager signs and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a token manager.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for caller. Used by operators and tests; logins happen
// in the identity provider.
func (m *TokenManager) Issue(caller Caller) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrMissingSecret
	}
	if caller.ID == "" || !caller.Role.IsValid() {
		return "", fmt.Errorf("issue token: invalid caller %q with role %q", caller.ID, caller.Role)
	}

	now := m.now()
	claims := Claims{
		Role:         caller.Role,
		Organization: caller.Organization,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse verifies a token and resolves the caller it names.
func (m *TokenManager) Parse(raw string) (Caller, error) {
	if len(m.secret) == 0 {
		return Caller{}, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !claims.Role.IsValid() {
		return Caller{}, fmt.Errorf("%w: missing subject or unknown role", ErrInvalidToken)
	}

	return Caller{ID: claims.Subject, Role: claims.Role, Organization: claims.Organization}, nil
}
