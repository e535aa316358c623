package app

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims of the dashboard tokens. Issuance happens elsewhere; the gateway
// only verifies.
type Claims struct {
	jwt.RegisteredClaims
	User string `json:"user"`
	Role string `json:"role,omitempty"`
}

// TokenVerifier checks HS256 tokens signed with a shared secret.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.User == "" {
		return nil, fmt.Errorf("auth: token without user")
	}
	return claims, nil
}
