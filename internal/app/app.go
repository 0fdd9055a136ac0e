// Package app собирает процесс из конфига: хранилище, журнал и его sink'и,
// ядро, учетки Console. Общий код для cmd/walletd и cmd/console.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/console/handler"
	"github.com/xela07ax/agentwallet/internal/console/server"
	"github.com/xela07ax/agentwallet/internal/console/service"
	"github.com/xela07ax/agentwallet/internal/engine"
	"github.com/xela07ax/agentwallet/internal/infra"
	"github.com/xela07ax/agentwallet/internal/infra/auth"
	"github.com/xela07ax/agentwallet/internal/repository/postgres"
	"github.com/xela07ax/agentwallet/internal/store"
	"github.com/xela07ax/agentwallet/internal/store/memory"
)

// memoryEventCapacity сколько последних событий держит кольцевой буфер
const memoryEventCapacity = 10000

type Runtime struct {
	Config   *infra.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry

	Store       store.Store
	Core        *engine.Core
	Journal     *audit.Journal
	Events      audit.EventReader
	Credentials service.CredentialStore

	closers []func() error
}

// Build поднимает зависимости. При ошибке уже открытые ресурсы закрываются.
func Build(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	if err := rt.build(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg, logger := rt.Config, rt.Logger
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var sinks []audit.Sink
	switch cfg.Engine.StoreDriver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		rt.Store = postgres.NewStore(db, postgres.StoreOptions{
			RetryAttempts: cfg.Engine.StoreRetryAttempts,
			RetryDelay:    10 * time.Millisecond,
			CBMaxRequests: cfg.Engine.CBMaxRequests,
			CBInterval:    cfg.Engine.CBInterval,
			CBTimeout:     cfg.Engine.CBTimeout,
			CBMaxFailures: cfg.Engine.CBMaxFailures,
		}, logger)
		journal := postgres.NewJournalRepo(db)
		sinks = append(sinks, journal)
		rt.Events = journal
		rt.Credentials = postgres.NewCredentialRepo(db)
		logger.Info("postgres store ready")
	default:
		rt.Store = memory.New()
		events := audit.NewMemorySink(memoryEventCapacity)
		sinks = append(sinks, events)
		rt.Events = events
		rt.Credentials = memory.NewCredentials()
		logger.Warn("memory store: state is lost on restart")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rt.closers = append(rt.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		sinks = append(sinks, audit.NewRedisSink(rdb))
		logger.Info("redis event sink enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.AMQP.URL != "" {
		amqpSink, err := audit.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
		logger.Info("amqp event sink enabled", zap.String("exchange", cfg.AMQP.Exchange))
	}

	rt.Journal = audit.NewJournal(audit.Options{
		Buffer:        cfg.Engine.JournalBufferSize,
		BatchSize:     cfg.Engine.JournalBatchSize,
		FlushInterval: cfg.Engine.JournalFlushInterval,
	}, logger, sinks...)
	rt.Journal.Start()

	rt.Core = engine.NewCore(rt.Store, logger,
		engine.WithAuditor(rt.Journal),
		engine.WithMetrics(engine.NewMetrics(rt.Registry)),
	)
	return nil
}

// Console Admin API. Нужен приватный ключ: без него токены выдавать нечем.
func (rt *Runtime) Console(ctx context.Context) (*server.ConsoleServer, error) {
	cfg := rt.Config.Auth
	if len(cfg.PrivateKey) == 0 {
		return nil, errors.New("console: auth private key is not configured")
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	authService := service.NewAuthService(rt.Credentials, auth.NewIssuer(privateKey, cfg.Issuer, cfg.TokenTTL), cfg.BcryptCost, rt.Logger)
	if err := authService.Bootstrap(ctx, cfg.BootstrapIdentity, cfg.BootstrapSecret); err != nil {
		return nil, err
	}

	return server.NewConsoleServer(rt.Logger, auth.NewBaseValidator(&privateKey.PublicKey),
		handler.NewAuthHandler(authService, rt.Logger),
		handler.NewAdminHandler(rt.Core, authService, rt.Logger),
		handler.NewAuditHandler(service.NewEventService(rt.Events), rt.Logger),
	), nil
}

// Validator проверка токенов для публичного API (публичный ключ Console)
func (rt *Runtime) Validator() (*auth.BaseValidator, error) {
	cfg := rt.Config.Auth
	switch {
	case len(cfg.PublicKey) > 0:
		pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		return auth.NewBaseValidator(pub), nil
	case len(cfg.PrivateKey) > 0:
		priv, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		return auth.NewBaseValidator(&priv.PublicKey), nil
	default:
		return nil, errors.New("auth: public key is not configured")
	}
}

// Close останавливает журнал (дожидаясь flush) и закрывает соединения в обратном порядке
func (rt *Runtime) Close() {
	if rt.Journal != nil {
		rt.Journal.Stop()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.Logger.Warn("close failed", zap.Error(err))
		}
	}
	rt.closers = nil
}
