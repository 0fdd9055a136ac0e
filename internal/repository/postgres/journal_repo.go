package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/agentwallet/internal/audit"
	"github.com/xela07ax/agentwallet/internal/store"
)

// JournalRepo sink журнала в таблицу journal_events
type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(db *sql.DB) *JournalRepo {
	return &JournalRepo{db: db}
}

var (
	_ audit.Sink        = (*JournalRepo)(nil)
	_ audit.EventReader = (*JournalRepo)(nil)
)

func (r *JournalRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице journal_events
	const numFields = 7
	placeholders := make([]string, 0, len(events))
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7))

		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %s: %w", e.ID, err)
		}
		vals = append(vals, e.ID, e.TraceID, string(e.Kind), e.Actor, e.Subject, payload, e.Timestamp)
	}

	// Повторная доставка той же пачки не дублирует строки
	query := fmt.Sprintf(
		"INSERT INTO journal_events (id, trace_id, kind, actor, subject, payload, timestamp) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.Join(placeholders, ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write journal batch: %w", err)
	}
	return nil
}

// FetchEvents выборка для Console, новые первыми
func (r *JournalRepo) FetchEvents(ctx context.Context, q audit.EventQuery) ([]audit.Event, error) {
	query := "SELECT id, trace_id, kind, actor, subject, payload, timestamp FROM journal_events"
	var (
		where []string
		args  []interface{}
	)
	if q.Subject != "" {
		args = append(args, q.Subject)
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, store.NormalizeLimit(q.Limit))
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &kind, &e.Actor, &e.Subject, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Kind = audit.Kind(kind)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("postgres: bad payload for event %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
