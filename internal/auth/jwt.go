package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies HS256-signed bearer tokens.
type JWTVerifier struct {
	secret []byte
	expiry time.Duration
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier builds a JWT helper with the given secret and expiry.
func NewJWTVerifier(secret string, expiry time.Duration) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), expiry: expiry}
}

type claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given subject. Used by the
// suite's REST layer when minting websocket credentials, and by tests.
func (v *JWTVerifier) Generate(userID, email, name string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id required")
	}

	c := claims{
		Email: strings.TrimSpace(email),
		Name:  strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if v.expiry > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(v.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(v.secret)
}

// Verify parses and validates a bearer token and returns the identity
// embedded in it.
func (v *JWTVerifier) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{
		UserID: c.Subject,
		Email:  strings.TrimSpace(c.Email),
		Name:   strings.TrimSpace(c.Name),
	}, nil
}
