package security

import (
	"errors"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Tokens signs and verifies the HS256 bearer tokens issued by the platform.
type Tokens struct {
	auth *jwtauth.JWTAuth
	ttl  time.Duration
}

func NewTokens(key []byte, ttl time.Duration) *Tokens {
	return &Tokens{auth: jwtauth.New("HS256", key, nil), ttl: ttl}
}

func (t *Tokens) JWTAuth() *jwtauth.JWTAuth { return t.auth }

func (t *Tokens) GenerateToken(userID, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     now.Add(t.ttl).Unix(),
		"iat":     now.Unix(),
	}
	_, tokenString, err := t.auth.Encode(claims)
	return tokenString, err
}

func GetUserIDFromClaims(claims jwt.MapClaims) (string, error) {
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", errors.New("user_id claim is missing or not a string")
	}
	return id, nil
}

func GetUserRoleFromClaims(claims jwt.MapClaims) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
