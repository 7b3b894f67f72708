package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AuthConfig carries the admin credentials and token settings for the
// admin API. An empty AdminUsername disables login entirely.
type AuthConfig struct {
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	TokenTTL      time.Duration
}

type authClaims struct {
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	secret   []byte
	username string
	password string
	tokenTTL time.Duration
}

func NewAuthService(cfg AuthConfig) ports.AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &authService{
		secret:   []byte(cfg.JWTSecret),
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
		tokenTTL: cfg.TokenTTL,
	}
}

// Login checks the configured admin credentials in constant time and
// mints an HS256 token carrying the admin role.
func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if s.username == "" || !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := &authClaims{
		Username: username,
		Role:     domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *authService) ValidateToken(tokenString string) (*ports.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*authClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &ports.TokenClaims{Username: claims.Username, Role: claims.Role}, nil
}
