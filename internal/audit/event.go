package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind вид факта, совпадает с суффиксом канала/routing key
type Kind string

const (
	KindWalletCreated      Kind = "wallet.created"
	KindTransferExecuted   Kind = "transfer.executed"
	KindLimitsUpdated      Kind = "limits.updated"
	KindEscrowCreated      Kind = "escrow.created"
	KindEscrowReleased     Kind = "escrow.released"
	KindEscrowRefunded     Kind = "escrow.refunded"
	KindPlatformConfigInit Kind = "platform_config.initialized"
	KindLedgerDeposited    Kind = "ledger.deposited"
)

// Event зафиксированный после коммита факт. Суммы в Payload лежат как uint64.
type Event struct {
	ID        string         `json:"id"`       // UUID события
	TraceID   string         `json:"trace_id"` // Сквозной ID запроса
	Kind      Kind           `json:"kind"`
	Actor     string         `json:"actor"`   // Кто инициировал
	Subject   string         `json:"subject"` // org/agent_id или escrow_id
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewEvent(kind Kind, actor, subject string, payload map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Actor:   actor,
		Subject: subject,
		Payload: payload,
	}
}
