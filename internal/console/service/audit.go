package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/store"
)

// EventService чтение журнала фактов (Postgres или кольцевой буфер в памяти)
type EventService struct {
	repo audit.EventReader
}

func NewEventService(repo audit.EventReader) *EventService {
	return &EventService{repo: repo}
}

// FetchEvents фильтрация по subject/kind, лимит нормализуется как у ListEscrows
func (s *EventService) FetchEvents(ctx context.Context, q audit.EventQuery) ([]audit.Event, error) {
	q.Limit = store.NormalizeLimit(q.Limit)
	events, err := s.repo.FetchEvents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("event_service: failed to fetch events: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}
