package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Claims extends JWT standard claims with the caller identity. Tokens are
// issued by the identity service and share its HS256 secret.
type Claims struct {
	jwt.RegisteredClaims
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Caller returns the identity carried by the token.
func (c *Claims) Caller() model.Caller {
	return model.Caller{UserID: c.UserID, Role: c.Role}
}

// AuthService validates bearer tokens.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}
	if claims.Role != model.RoleStudent && claims.Role != model.RoleInvigilator {
		return nil, fmt.Errorf("unsupported role %q", claims.Role)
	}

	return claims, nil
}

// IssueToken signs a token for caller. Production tokens come from the
// identity service; this serves seeding and end-to-end tests.
func (s *AuthService) IssueToken(caller model.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: caller.UserID,
		Role:   caller.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
