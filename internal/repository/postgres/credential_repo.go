package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/agentwallet/internal/domain"
)

const sqlStateUniqueViolation = "23505"

// CredentialRepo учетки для выдачи токенов Console API
type CredentialRepo struct {
	db *sql.DB
}

func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// GetCredential nil, nil если учетки нет
func (r *CredentialRepo) GetCredential(ctx context.Context, identity string) (*domain.Credential, error) {
	query := `SELECT identity, secret_hash, scopes, created_at FROM credentials WHERE identity = $1`

	var (
		c      domain.Credential
		scopes []byte
	)
	err := r.db.QueryRowContext(ctx, query, identity).Scan(&c.Identity, &c.SecretHash, &scopes, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get credential: %w", err)
	}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, fmt.Errorf("postgres: bad scopes for %s: %w", identity, err)
	}
	return &c, nil
}

func (r *CredentialRepo) CreateCredential(ctx context.Context, c *domain.Credential) error {
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO credentials (identity, secret_hash, scopes, created_at) VALUES ($1, $2, $3, $4)`,
		c.Identity, c.SecretHash, scopes, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return domain.Errorf(domain.CodeInvalidArgument, "credential %s already exists", c.Identity)
		}
		return fmt.Errorf("postgres: failed to create credential: %w", err)
	}
	return nil
}
