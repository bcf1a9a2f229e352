package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lazypower/dermagraph/internal/access"
)

var errMissingToken = errors.New("missing bearer token")

// Claims is the token payload. AccessLevel uses the level names, e.g.
// "PROFESSIONAL".
type Claims struct {
	AccessLevel string `json:"access_level"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens issued by the auth gateway.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("token secret required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Level validates the Authorization header value and returns the clearance
// it grants.
func (v *TokenVerifier) Level(header string) (access.Level, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return 0, errMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	level, err := access.ParseLevel(claims.AccessLevel)
	if err != nil {
		return 0, fmt.Errorf("invalid token claims: %w", err)
	}
	return level, nil
}

// Sign issues a token granting level. Used by tests and local tooling.
func (v *TokenVerifier) Sign(level access.Level, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccessLevel: level.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
