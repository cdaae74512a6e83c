package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is an immutable record of one slot state transition.
type AuditEntry struct {
	ID            string          `json:"id"`
	SlotID        string          `json:"slot_id"`
	EventType     string          `json:"event_type"`
	OldStatus     string          `json:"old_status"`
	NewStatus     string          `json:"new_status"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// AuditLog appends and reads transition records. Entries are never updated
// or deleted here; retention is an administrative concern.
type AuditLog struct {
	db *sql.DB
}

func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append writes one audit entry. The id is assigned here.
func (a *AuditLog) Append(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	var meta any
	if len(entry.Metadata) > 0 {
		meta = []byte(entry.Metadata)
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, slot_id, event_type, old_status, new_status, occurred_at, correlation_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.SlotID, entry.EventType, entry.OldStatus, entry.NewStatus,
		entry.OccurredAt, entry.CorrelationID, meta,
	)
	return err
}

// ListBySlot returns a slot's transition history in occurrence order.
func (a *AuditLog) ListBySlot(ctx context.Context, slotID string) ([]AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, slot_id, event_type, old_status, new_status, occurred_at, correlation_id, COALESCE(metadata, 'null'::jsonb)
		 FROM audit_log
		 WHERE slot_id = $1
		 ORDER BY occurred_at ASC`,
		slotID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SlotID, &e.EventType, &e.OldStatus, &e.NewStatus,
			&e.OccurredAt, &e.CorrelationID, &e.Metadata); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
