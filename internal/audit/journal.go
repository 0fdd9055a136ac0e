package audit

/*
Файл journal.go Journal фактов движка, неблокирующая доставка событий после коммита.

- Log не блокирует операцию: событие кладется в буферизированный канал,
  при переполнении сбрасывается с записью в лог (Load Shedding).
- Воркер копит пачку и отдает ее всем Sink по таймеру или по размеру пачки.
- Stop закрывает канал и ждет финального flush (Drain Pattern).
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink определяет, куда физически уходят события (Postgres, Redis, RabbitMQ)
type Sink interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Auditor interface {
	Log(event Event)
}

// Nop Auditor, который ничего не делает
type Nop struct{}

func (Nop) Log(Event) {}

type Options struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
}

func (o *Options) withDefaults() {
	if o.Buffer <= 0 {
		o.Buffer = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
}

type Journal struct {
	ch     chan Event
	sinks  []Sink
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup

	closed  atomic.Bool
	stopMu  sync.RWMutex // Log держит RLock, Stop ждет Lock перед close(ch)
	dropped atomic.Int64
}

func NewJournal(opts Options, logger *zap.Logger, sinks ...Sink) *Journal {
	opts.withDefaults()
	return &Journal{
		ch:     make(chan Event, opts.Buffer),
		sinks:  sinks,
		opts:   opts,
		logger: logger.With(zap.String("mod", "journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет
func (j *Journal) Stop() {
	if !j.closed.CompareAndSwap(false, true) {
		return
	}
	j.stopMu.Lock()
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.stopMu.Unlock()
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully", zap.Int64("dropped", j.dropped.Load()))
}

func (j *Journal) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	j.stopMu.RLock()
	defer j.stopMu.RUnlock()
	if j.closed.Load() {
		j.dropped.Add(1)
		j.logger.Warn("event dropped: journal is stopping", zap.String("id", event.ID), zap.String("kind", string(event.Kind)))
		return
	}

	select {
	case j.ch <- event:
	default:
		j.dropped.Add(1)
		j.logger.Error("journal_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("subject", event.Subject),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// Dropped сколько событий потеряно из-за переполнения или остановки
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст запроса к этому моменту уже закрыт
		if err := j.write(context.Background(), batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// write отдает пачку каждому sink; сбой одного не мешает остальным
func (j *Journal) write(ctx context.Context, batch []Event) error {
	var errs []error
	for _, s := range j.sinks {
		if err := s.WriteBatch(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
