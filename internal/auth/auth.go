// Package auth verifies and issues the bearer tokens that carry a
// participant identity. Tokens are HS256 JWTs with an "id" claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken     = errors.New("missing token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingSubject   = errors.New("token has no participant id")
	ErrEmptySecret      = errors.New("empty signing secret")
)

// Claims is the token payload. ID is the participant id.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks tokens against a shared secret. It has no side effects and
// is safe for concurrent use.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify returns the participant id carried by token.
func (v *Verifier) Verify(token string) (string, error) {
	return v.VerifyAt(token, time.Now())
}

// VerifyAt is Verify with an explicit clock.
func (v *Verifier) VerifyAt(token string, now time.Time) (string, error) {
	claims, err := v.ClaimsAt(token, now)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// ClaimsAt parses and validates token, returning all of its claims.
func (v *Verifier) ClaimsAt(token string, now time.Time) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.ID == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// Issuer mints tokens with the same secret a Verifier checks.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret string) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Mint signs a token for participant id that expires after ttl.
func (i *Issuer) Mint(id, username string, ttl time.Duration) (string, error) {
	if id == "" {
		return "", ErrMissingSubject
	}
	now := i.now()
	claims := Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
