package engine

/*
Файл core.go оркестратор операций кошельков и эскроу.

Каждая операция: запрос -> единица работы хранилища -> движок (policy/escrow)
на рабочей копии -> проводки леджера -> коммит -> событие в журнал.
Событие отправляется только после успешного коммита, так что журнал
никогда не видит отвергнутых или откаченных операций.
*/

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/domain"
	"github.com/xela07ax/agentwallet/internal/store"
)

const tracerName = "github.com/xela07ax/agentwallet/internal/engine"

type Core struct {
	store   store.Store
	auditor audit.Auditor
	metrics *Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Core)

// WithClock источник времени для суточного окна и срока эскроу
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

func WithAuditor(a audit.Auditor) Option {
	return func(c *Core) { c.auditor = a }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

func NewCore(st store.Store, logger *zap.Logger, opts ...Option) *Core {
	c := &Core{
		store:   st,
		auditor: audit.Nop{},
		logger:  logger.Named("engine"),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// run общий каркас операции: span, метрики, лог исхода
func (c *Core) run(ctx context.Context, op string, fields []zap.Field, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "engine."+op)
	defer span.End()
	start := time.Now()

	err := fn(ctx)

	code := "OK"
	if err != nil {
		code = string(domain.CodeOf(err))
	}
	c.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.metrics.OperationsTotal.WithLabelValues(op, code).Inc()
	span.SetAttributes(attribute.String("agentwallet.code", code))

	fields = append(fields, zap.String("op", op), zap.String("trace_id", TraceIDFromContext(ctx)))
	switch {
	case err == nil:
		c.logger.Info("operation completed", fields...)
	case domain.CodeOf(err) == domain.CodeStorageFailure:
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code)
		c.logger.Error("operation failed", append(fields, zap.Error(err))...)
	default:
		span.SetStatus(otelcodes.Error, code)
		c.logger.Warn("operation rejected", append(fields, zap.String("code", code), zap.Error(err))...)
	}
	return err
}

func (c *Core) emit(ctx context.Context, kind audit.Kind, actor, subject string, payload map[string]any) {
	ev := audit.NewEvent(kind, actor, subject, payload)
	ev.TraceID = TraceIDFromContext(ctx)
	ev.Timestamp = c.now().UTC()
	c.auditor.Log(ev)
}

func requireCaller(caller string) error {
	if caller == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "caller identity is required")
	}
	return nil
}
