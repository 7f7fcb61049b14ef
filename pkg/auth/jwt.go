package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated identity attached to every request after
// the bearer middleware runs. Handlers never see raw tokens.
type Principal struct {
	UserID      int64
	Username    string
	Permissions []string
}

// HasPermission reports whether the principal holds the named permission.
// The admin permission implies every other permission; an empty name only
// requires authentication.
func (p *Principal) HasPermission(name string) bool {
	if name == "" {
		return true
	}
	for _, perm := range p.Permissions {
		if perm == "admin" || perm == name {
			return true
		}
	}
	return false
}

// tokenClaims is the JWT payload for bearer credentials
type tokenClaims struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the bearer credentials carried on every
// sync endpoint
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer with the given signing secret and
// credential lifetime
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue mints a signed bearer token for a user. Returns the token and its
// lifetime in seconds.
func (t *TokenIssuer) Issue(userID int64, username string, permissions []string) (string, int, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Username:    username,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int(t.ttl.Seconds()), nil
}

// Verify parses and validates a bearer token, returning the principal it
// carries
func (t *TokenIssuer) Verify(tokenString string) (*Principal, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	var userID int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userID); err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", err)
	}

	return &Principal{
		UserID:      userID,
		Username:    claims.Username,
		Permissions: claims.Permissions,
	}, nil
}
