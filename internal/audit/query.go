package audit

import (
	"context"
	"sync"
)

// EventQuery выборка журнала для Console. Пустые поля не фильтруют.
type EventQuery struct {
	Subject string
	Kind    Kind
	Limit   int
}

func (q EventQuery) Match(e Event) bool {
	if q.Subject != "" && e.Subject != q.Subject {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	return true
}

// EventReader чтение журнала, новые события первыми
type EventReader interface {
	FetchEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

// MemorySink кольцевой буфер последних событий (store_driver=memory)
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemorySink{events: make([]Event, capacity)}
}

var (
	_ Sink        = (*MemorySink)(nil)
	_ EventReader = (*MemorySink)(nil)
)

func (m *MemorySink) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.events[m.next] = e
		m.next = (m.next + 1) % len(m.events)
		if m.next == 0 {
			m.full = true
		}
	}
	return nil
}

func (m *MemorySink) FetchEvents(_ context.Context, q EventQuery) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.next
	if m.full {
		n = len(m.events)
	}
	out := make([]Event, 0)
	// обходим от последнего записанного назад
	for i := 1; i <= n; i++ {
		e := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !q.Match(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}
