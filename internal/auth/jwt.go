// Package auth guards the mutating control endpoints (mode switches,
// overrides, breaker and account resets) behind bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// OperatorClaims identify who is driving the control surface. GrantedBy on
// overrides and manual breaker events comes from here.
type OperatorClaims struct {
	Operator string `json:"operator"`
	Admin    bool   `json:"admin"`
}

type claims struct {
	OperatorClaims
	jwt.RegisteredClaims
}

// JWTManager issues and validates operator tokens.
type JWTManager struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a manager signing with the shared secret.
func NewJWTManager(secret string, tokenDuration time.Duration) *JWTManager {
	if tokenDuration <= 0 {
		tokenDuration = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), tokenDuration: tokenDuration}
}

// GenerateToken issues a signed token for an operator.
func (m *JWTManager) GenerateToken(oc OperatorClaims) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		OperatorClaims: oc,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   oc.Operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "paper-trader",
			Audience:  []string{"paper-trader-api"},
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks the signature and expiry and returns the claims.
func (m *JWTManager) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &c.OperatorClaims, nil
}
