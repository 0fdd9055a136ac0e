package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

// Коды SQLSTATE, при которых единица работы перезапускается целиком
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

type StoreOptions struct {
	RetryAttempts uint
	RetryDelay    time.Duration

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	CBMaxFailures uint32
}

// Store реализация store.Store поверх Postgres. Изоляция READ COMMITTED:
// записи кошелька и эскроу блокируются SELECT ... FOR UPDATE, списание идет условным UPDATE.
// Дедлоки (и 40001, если их вернет сервер) повторяются через retry-go; исчерпанные
// повторы отдаются как CONCURRENT_UPDATE и предохранитель не открывают.
type Store struct {
	db     *sql.DB
	cb     *gobreaker.CircuitBreaker
	opts   StoreOptions
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

func NewStore(db *sql.DB, opts StoreOptions, logger *zap.Logger) *Store {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 20 * time.Millisecond
	}
	if opts.CBMaxFailures == 0 {
		opts.CBMaxFailures = 5
	}
	logger = logger.Named("pg-store")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pg-store",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.CBMaxFailures
		},
		// Отказ бизнес-правила или конфликт за одну запись не повод открывать предохранитель
		IsSuccessful: func(err error) bool {
			return err == nil || domain.CodeOf(err) != domain.CodeStorageFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Store{db: db, cb: cb, opts: opts, logger: logger}
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.execute(ctx, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.execute(ctx, true, fn)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB пул для соседних репозиториев (журнал, учетки)
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) execute(ctx context.Context, readOnly bool, fn func(tx store.Tx) error) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.opts.RetryAttempts),
			retry.Delay(s.opts.RetryDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(isRetryable),
			retry.OnRetry(func(n uint, err error) {
				s.logger.Debug("unit of work retried", zap.Uint("attempt", n), zap.Error(err))
			}),
		)
		err := r.Do(func() error {
			return s.runTx(ctx, readOnly, fn)
		})
		if isRetryable(err) {
			return nil, domain.Errorf(domain.CodeConcurrentUpdate, "postgres: %v", err)
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Errorf(domain.CodeStorageFailure, "postgres: %v", err)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, readOnly bool, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	t := &tx{tx: sqlTx, forUpdate: !readOnly}
	if err := fn(t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}
