package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agentwallet/internal/domain"
)

// ErrInvalidCredentials не уточняем, что именно неверно (identity или secret)
var ErrInvalidCredentials = errors.New("invalid credentials")

// minSecretLength короче не принимаем при заведении учетки
const minSecretLength = 12

type CredentialStore interface {
	GetCredential(ctx context.Context, identity string) (*domain.Credential, error)
	CreateCredential(ctx context.Context, c *domain.Credential) error
}

// TokenIssuer реализует auth.Issuer
type TokenIssuer interface {
	Issue(identity string, scopes map[string]bool) (string, time.Duration, error)
}

type AuthService struct {
	repo   CredentialStore
	issuer TokenIssuer
	cost   int
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthService(repo CredentialStore, issuer TokenIssuer, bcryptCost int, logger *zap.Logger) *AuthService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		repo:   repo,
		issuer: issuer,
		cost:   bcryptCost,
		logger: logger.Named("auth-service"),
		now:    time.Now,
	}
}

// GenerateToken RS256 токен, Subject = identity учетки
func (s *AuthService) GenerateToken(ctx context.Context, identity, secret string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды: хранилище учеток)
	cred, err := s.repo.GetCredential(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("auth_service: %w", err)
	}
	if cred == nil {
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка секрета (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(secret)); err != nil {
		s.logger.Warn("login rejected", zap.String("identity", identity))
		return nil, ErrInvalidCredentials
	}

	// 3. Подпись ЗАКРЫТЫМ КЛЮЧОМ
	token, ttl, err := s.issuer.Issue(cred.Identity, cred.Scopes)
	if err != nil {
		return nil, err
	}

	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

// CreateCredential хеширует secret и сохраняет учетку
func (s *AuthService) CreateCredential(ctx context.Context, identity, secret string, scopes map[string]bool) (*domain.Credential, error) {
	if identity == "" {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "identity is required")
	}
	if len(secret) < minSecretLength {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "secret must be at least %d bytes", minSecretLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		// bcrypt отвергает secret длиннее 72 байт
		return nil, domain.Errorf(domain.CodeInvalidArgument, "secret rejected: %v", err)
	}
	if scopes == nil {
		scopes = map[string]bool{}
	}
	cred := &domain.Credential{
		Identity:   identity,
		SecretHash: string(hash),
		Scopes:     scopes,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}
	s.logger.Info("credential created", zap.String("identity", identity), zap.Any("scopes", scopes))
	return cred, nil
}

// Bootstrap заводит первую admin-учетку, если ее еще нет
func (s *AuthService) Bootstrap(ctx context.Context, identity, secret string) error {
	if identity == "" || secret == "" {
		return nil
	}
	existing, err := s.repo.GetCredential(ctx, identity)
	if err != nil {
		return fmt.Errorf("auth_service: bootstrap: %w", err)
	}
	if existing != nil {
		return nil
	}
	_, err = s.CreateCredential(ctx, identity, secret, map[string]bool{domain.ScopeAdmin: true})
	return err
}
