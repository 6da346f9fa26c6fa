package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenTypeAccess is the "typ" claim value of access tokens.
const TokenTypeAccess = "access"

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// TokenVerifier checks HMAC-signed JWTs issued by the auth service.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(strings.TrimSpace(secret))}
}

// ParseAndValidateToken parses a JWT and returns its identity claims. When
// the token carries a "typ" claim it must equal expectedType.
func (v *TokenVerifier) ParseAndValidateToken(tokenStr, expectedType string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if typ, present := mc["typ"]; present && expectedType != "" {
		if s, ok := typ.(string); !ok || s != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}

	claims := &Claims{}
	claims.UserID, _ = mc["id"].(string)
	claims.Email, _ = mc["email"].(string)
	claims.Role, _ = mc["role"].(string)
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// IssueToken signs an access token for c valid for ttl. The auth service owns
// issuance in production; this is used by tooling and tests.
func (v *TokenVerifier) IssueToken(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    c.UserID,
		"email": c.Email,
		"role":  c.Role,
		"typ":   TokenTypeAccess,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
