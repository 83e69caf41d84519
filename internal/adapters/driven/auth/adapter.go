package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/custodia-labs/conduit-core/internal/core/domain"
	"github.com/custodia-labs/conduit-core/internal/core/ports/driving"
)

// Ensure Adapter implements AuthService
var _ driving.AuthService = (*Adapter)(nil)

// jwtClaims wraps operator claims for JWT compatibility
type jwtClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Adapter authenticates the configured operator account using bcrypt and
// issues HS256 JWTs for the admin and webhook operator paths.
type Adapter struct {
	jwtSecret     []byte
	operatorEmail string
	operatorHash  string
	tokenTTL      time.Duration
}

// NewAdapter creates an auth adapter. operatorHash is a bcrypt hash; an
// empty hash disables login entirely.
func NewAdapter(jwtSecret, operatorEmail, operatorHash string) *Adapter {
	return &Adapter{
		jwtSecret:     []byte(jwtSecret),
		operatorEmail: operatorEmail,
		operatorHash:  operatorHash,
		tokenTTL:      24 * time.Hour,
	}
}

// HashPassword generates a bcrypt hash from a plaintext password.
// Exposed for provisioning tooling and tests.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login verifies operator credentials and returns a signed token.
func (a *Adapter) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", domain.ErrInvalidInput
	}
	if a.operatorHash == "" {
		return "", domain.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(email), []byte(a.operatorEmail)) != 1 {
		return "", domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.operatorHash), []byte(password)); err != nil {
		return "", domain.ErrUnauthorized
	}

	now := time.Now()
	claims := jwtClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken parses and verifies a bearer token.
func (a *Adapter) ValidateToken(ctx context.Context, tokenString string) (*driving.OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwtClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}

	claims, ok := token.Claims.(*jwtClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrTokenInvalid
	}

	return &driving.OperatorClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
	}, nil
}
