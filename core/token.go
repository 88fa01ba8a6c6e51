package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer identifies tokens minted by this service.
const TokenIssuer = "core-system"

// ErrTokenSigning is returned when a token cannot be issued.
var ErrTokenSigning = errors.New("token signing failed")

// TokenService issues and verifies stateless HS256 access tokens.
// Validity is fully re-derived from signature and expiry on every call;
// nothing is stored server-side.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService builds a TokenService from the configured shared secret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given subject (the user login).
func (s *TokenService) Issue(subject string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokenSigning
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Join(ErrTokenSigning, err)
	}
	return signed, nil
}

// Subject verifies the token and returns its subject.
// Any failure (malformed token, bad signature, wrong issuer, elapsed
// expiry) yields the empty string. Invalid tokens arrive routinely, so
// verification failure is data for the caller, never an error.
func (s *TokenService) Subject(token string) string {
	if token == "" || len(s.secret) == 0 {
		return ""
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return ""
	}
	return claims.Subject
}

// IsValid reports whether the token verifies to a non-empty subject.
func (s *TokenService) IsValid(token string) bool {
	return s.Subject(token) != ""
}

// TTLSeconds returns the configured token lifetime in whole seconds,
// used for the cookie max age.
func (s *TokenService) TTLSeconds() int {
	return int(s.ttl / time.Second)
}
