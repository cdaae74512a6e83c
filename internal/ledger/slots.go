package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/slot-admission/internal/domain/slot"
)

// SlotLedger is the durable, authoritative slot history. The fairness store
// decides availability; the ledger records what was decided and survives a
// store restart.
type SlotLedger struct {
	db *sql.DB
}

func NewSlotLedger(db *sql.DB) *SlotLedger {
	return &SlotLedger{db: db}
}

const slotColumns = `id, item_id, requester_id, acquired_at, expires_at, status,
	COALESCE(reclaim_reason, ''), correlation_id, queue_position, remaining_stock`

// InsertSlot records a freshly allocated slot.
func (l *SlotLedger) InsertSlot(ctx context.Context, s slot.Slot) error {
	var reason any
	if s.ReclaimReason != "" {
		reason = string(s.ReclaimReason)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO slots (id, item_id, requester_id, acquired_at, expires_at, status,
			reclaim_reason, correlation_id, queue_position, remaining_stock)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.ItemID, s.RequesterID, s.AcquiredAt, s.ExpiresAt, string(s.Status),
		reason, s.CorrelationID, s.QueuePosition, s.RemainingStock,
	)
	return err
}

// GetSlot fetches a slot by id.
func (l *SlotLedger) GetSlot(ctx context.Context, id string) (slot.Slot, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

// FindActiveSlot returns the requester's ACTIVE slot for an item, if any.
func (l *SlotLedger) FindActiveSlot(ctx context.Context, requesterID, itemID string) (*slot.Slot, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE requester_id = $1 AND item_id = $2 AND status = 'ACTIVE'`,
		requesterID, itemID)
	s, err := scanSlot(row)
	if errors.Is(err, slot.ErrSlotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListRequesterSlots returns all of a requester's slots, newest first,
// optionally filtered by item.
func (l *SlotLedger) ListRequesterSlots(ctx context.Context, requesterID, itemID string) ([]slot.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE requester_id = $1`
	args := []any{requesterID}
	if itemID != "" {
		query += ` AND item_id = $2`
		args = append(args, itemID)
	}
	query += ` ORDER BY acquired_at DESC`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []slot.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// ListActiveSlots returns every ACTIVE slot, for the reconciliation pass.
func (l *SlotLedger) ListActiveSlots(ctx context.Context) ([]slot.Slot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE status = 'ACTIVE' ORDER BY acquired_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []slot.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// FindQueueSlot locates the ACTIVE slot matching a fairness queue entry.
func (l *SlotLedger) FindQueueSlot(ctx context.Context, itemID, requesterID string, acquiredAt time.Time) (*slot.Slot, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots
		 WHERE item_id = $1 AND requester_id = $2 AND acquired_at = $3 AND status = 'ACTIVE'`,
		itemID, requesterID, acquiredAt)
	s, err := scanSlot(row)
	if errors.Is(err, slot.ErrSlotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkExpired performs the guarded ACTIVE -> EXPIRED transition. Returns
// false when the row was not ACTIVE anymore, which callers treat as
// already-processed rather than an error.
func (l *SlotLedger) MarkExpired(ctx context.Context, id string, reason slot.ReclaimReason) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE slots SET status = 'EXPIRED', reclaim_reason = $2
		 WHERE id = $1 AND status = 'ACTIVE'`,
		id, string(reason))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkCompleted performs the guarded ACTIVE -> COMPLETED transition.
func (l *SlotLedger) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE slots SET status = 'COMPLETED'
		 WHERE id = $1 AND status = 'ACTIVE'`,
		id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (slot.Slot, error) {
	var s slot.Slot
	var status, reason string
	err := row.Scan(&s.ID, &s.ItemID, &s.RequesterID, &s.AcquiredAt, &s.ExpiresAt,
		&status, &reason, &s.CorrelationID, &s.QueuePosition, &s.RemainingStock)
	if errors.Is(err, sql.ErrNoRows) {
		return slot.Slot{}, slot.ErrSlotNotFound
	}
	if err != nil {
		return slot.Slot{}, err
	}
	s.Status = slot.Status(status)
	s.ReclaimReason = slot.ReclaimReason(reason)
	s.AcquiredAt = s.AcquiredAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	return s, nil
}
