package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin доступ к консоли (platform config, deposits, credentials)
const ScopeAdmin = "admin"

// CustomClaims Subject токена = identity вызывающего
type CustomClaims struct {
	Scopes map[string]bool `json:"scopes"` // "admin": true
	jwt.RegisteredClaims
}

func (c *CustomClaims) HasScope(scope string) bool {
	return c != nil && c.Scopes[scope]
}

// Secure Token Issuing
type LoginRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Credential учетка для выдачи токенов
type Credential struct {
	Identity   string          `json:"identity"`
	SecretHash string          `json:"-"` // Никогда не отдаем наружу
	Scopes     map[string]bool `json:"scopes"`
	CreatedAt  time.Time       `json:"created_at"`
}
