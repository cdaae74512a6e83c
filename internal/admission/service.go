package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/slot-admission/internal/clock"
	"github.com/example/slot-admission/internal/domain/item"
	"github.com/example/slot-admission/internal/domain/slot"
	"github.com/example/slot-admission/internal/event"
	"github.com/example/slot-admission/internal/fairness"
	"github.com/example/slot-admission/internal/ledger"
)

// Catalog is the read-only item collaborator plus the ledger-side stock
// pre-check.
type Catalog interface {
	GetItem(ctx context.Context, id string) (item.Item, error)
	CountCommittedStock(ctx context.Context, itemID string) (int64, error)
}

// FairnessStore is the atomic allocator. Allocate is the only call whose
// result gates an admission decision.
type FairnessStore interface {
	Allocate(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) (fairness.AllocateResult, error)
	Consume(ctx context.Context, itemID, requesterID string) (bool, error)
	Reclaim(ctx context.Context, itemID, requesterID string) (bool, error)
	HasGuard(ctx context.Context, itemID, requesterID string) (bool, error)
}

// Ledger is the durable slot history.
type Ledger interface {
	InsertSlot(ctx context.Context, s slot.Slot) error
	GetSlot(ctx context.Context, id string) (slot.Slot, error)
	FindActiveSlot(ctx context.Context, requesterID, itemID string) (*slot.Slot, error)
	ListRequesterSlots(ctx context.Context, requesterID, itemID string) ([]slot.Slot, error)
	MarkExpired(ctx context.Context, id string, reason slot.ReclaimReason) (bool, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
}

// AuditSink appends immutable transition records.
type AuditSink interface {
	Append(ctx context.Context, entry ledger.AuditEntry) error
}

// Notifier forwards slot events best-effort.
type Notifier interface {
	Emit(ctx context.Context, ev event.SlotEvent)
}

// Service orchestrates slot acquisition and completion. It holds no state
// shared across requests; the fairness store owns the stock counter and
// ordering, so the service stays correct when run as multiple replicas.
type Service struct {
	catalog  Catalog
	store    FairnessStore
	ledger   Ledger
	audit    AuditSink
	notifier Notifier
	clock    clock.Clock
	lifetime time.Duration
}

type Option func(*Service)

// WithLifetime overrides the default slot lifetime.
func WithLifetime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

func NewService(catalog Catalog, store FairnessStore, ldg Ledger, audit AuditSink, notifier Notifier, clk clock.Clock, opts ...Option) *Service {
	svc := &Service{
		catalog:  catalog,
		store:    store,
		ledger:   ldg,
		audit:    audit,
		notifier: notifier,
		clock:    clk,
		lifetime: slot.DefaultLifetime,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Lifetime returns the configured slot lifetime.
func (s *Service) Lifetime() time.Duration {
	return s.lifetime
}

// AcquireInput carries one acquisition request. ArrivalAt must be captured
// at the earliest point in the request path; it is the fairness key.
type AcquireInput struct {
	RequesterID   string
	ItemID        string
	ArrivalAt     time.Time
	CorrelationID string
}

// Acquire runs the full admission sequence: availability gate, duplicate
// pre-check, atomic allocation, durable record, audit, notification.
func (s *Service) Acquire(ctx context.Context, in AcquireInput) (slot.Slot, error) {
	now := s.clock.Now()
	arrival := in.ArrivalAt
	if arrival.IsZero() {
		arrival = now
	}
	arrival = arrival.UTC().Truncate(time.Millisecond)

	// 1. Availability gate.
	it, err := s.catalog.GetItem(ctx, in.ItemID)
	if errors.Is(err, item.ErrItemNotFound) {
		return slot.Slot{}, newError(CodeItemNotFound, ErrItemNotFound, in.ItemID, in.RequesterID, in.CorrelationID)
	}
	if err != nil {
		return slot.Slot{}, wrapError(CodeAllocationFailed, ErrAllocationFailed, err, in.ItemID, in.RequesterID, in.CorrelationID)
	}
	if !it.OnSale(now) {
		return slot.Slot{}, newError(CodeItemNotAvailable, ErrItemNotAvailable, in.ItemID, in.RequesterID, in.CorrelationID)
	}
	if committed, err := s.catalog.CountCommittedStock(ctx, in.ItemID); err == nil && committed >= it.TotalStock {
		// Ledger-level exhaustion pre-check. The authoritative check is the
		// atomic allocation below.
		return slot.Slot{}, newError(CodeItemNotAvailable, ErrItemNotAvailable, in.ItemID, in.RequesterID, in.CorrelationID)
	}

	// 2. Duplicate pre-check. An optimization only: a store error here falls
	// through to the atomic step, which enforces the guarantee.
	if held, err := s.store.HasGuard(ctx, in.ItemID, in.RequesterID); err == nil && held {
		return slot.Slot{}, newError(CodeDuplicateSlot, ErrDuplicateSlot, in.ItemID, in.RequesterID, in.CorrelationID)
	}

	// 3. Atomic allocation.
	res, err := s.store.Allocate(ctx, in.ItemID, in.RequesterID, arrival, s.lifetime)
	if err != nil {
		return slot.Slot{}, wrapError(CodeAllocationFailed, ErrAllocationFailed, err, in.ItemID, in.RequesterID, in.CorrelationID)
	}
	switch res.Outcome {
	case fairness.OutcomeDuplicate:
		return slot.Slot{}, newError(CodeDuplicateSlot, ErrDuplicateSlot, in.ItemID, in.RequesterID, in.CorrelationID)
	case fairness.OutcomeSoldOut:
		return slot.Slot{}, newError(CodeOutOfStock, ErrOutOfStock, in.ItemID, in.RequesterID, in.CorrelationID)
	case fairness.OutcomeSuccess:
		// fall through
	default:
		return slot.Slot{}, wrapError(CodeAllocationFailed, ErrAllocationFailed,
			fmt.Errorf("unexpected outcome %q", res.Outcome), in.ItemID, in.RequesterID, in.CorrelationID)
	}

	newSlot := slot.New(uuid.New().String(), in.ItemID, in.RequesterID, in.CorrelationID, arrival, s.lifetime)
	newSlot.QueuePosition = res.Position
	newSlot.RemainingStock = res.RemainingStock

	// 4. Durable record. The allocation already happened; a persistence
	// failure here is an inconsistency to reconcile, not a rollback.
	if err := s.ledger.InsertSlot(ctx, newSlot); err != nil {
		if retryErr := s.ledger.InsertSlot(ctx, newSlot); retryErr != nil {
			log.Printf("[Admission] INCONSISTENCY: slot %s allocated but not persisted (corr %s): %v",
				newSlot.ID, in.CorrelationID, retryErr)
		}
	}

	// 5. Audit.
	s.appendAudit(ctx, newSlot, event.TypeSlotAcquired, "", slot.StatusActive, map[string]any{
		"queue_position":  res.Position,
		"remaining_stock": res.RemainingStock,
	})

	// 6. Notification, fire-and-forget.
	s.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotAcquired, newSlot, now))

	return newSlot, nil
}

// Complete transitions an ACTIVE slot to COMPLETED on settlement. The
// expiry check happens here, lazily, so a lapsed slot is refused even
// before the reclaimer has processed it.
func (s *Service) Complete(ctx context.Context, slotID, correlationID string) (slot.Slot, error) {
	now := s.clock.Now()

	current, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}

	completed, err := current.Complete(now)
	if err != nil {
		return slot.Slot{}, err
	}

	ok, err := s.ledger.MarkCompleted(ctx, slotID)
	if err != nil {
		return slot.Slot{}, fmt.Errorf("completing slot %s: %w", slotID, err)
	}
	if !ok {
		// Lost the race against another transition. Reject defensively.
		return slot.Slot{}, fmt.Errorf("%w: slot %s already transitioned", slot.ErrInvalidTransition, slotID)
	}

	// The unit is spent: drop the queue entry and guard without returning
	// stock.
	if _, err := s.store.Consume(ctx, current.ItemID, current.RequesterID); err != nil {
		log.Printf("[Admission] Failed to consume fairness entry for slot %s (corr %s): %v",
			slotID, correlationID, err)
	}

	s.appendAudit(ctx, completed, event.TypeSlotCompleted, slot.StatusActive, slot.StatusCompleted, nil)
	s.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotCompleted, completed, now))

	return completed, nil
}

// ReclaimManual expires an ACTIVE slot by administrative action, returning
// its stock immediately.
func (s *Service) ReclaimManual(ctx context.Context, slotID, correlationID string) (slot.Slot, error) {
	now := s.clock.Now()

	current, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		return slot.Slot{}, err
	}

	expired, err := current.Expire(now, slot.ReasonManualReclaimed)
	if err != nil {
		return slot.Slot{}, err
	}

	if _, err := s.store.Reclaim(ctx, current.ItemID, current.RequesterID); err != nil {
		return slot.Slot{}, fmt.Errorf("reclaiming slot %s: %w", slotID, err)
	}

	ok, err := s.ledger.MarkExpired(ctx, slotID, slot.ReasonManualReclaimed)
	if err != nil {
		return slot.Slot{}, fmt.Errorf("recording reclaim of slot %s: %w", slotID, err)
	}
	if !ok {
		return slot.Slot{}, fmt.Errorf("%w: slot %s already transitioned", slot.ErrInvalidTransition, slotID)
	}

	s.appendAudit(ctx, expired, event.TypeSlotExpired, slot.StatusActive, slot.StatusExpired, map[string]any{
		"reason": string(slot.ReasonManualReclaimed),
	})
	s.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotExpired, expired, now))

	return expired, nil
}

// GetSlot fetches a slot by id.
func (s *Service) GetSlot(ctx context.Context, id string) (slot.Slot, error) {
	return s.ledger.GetSlot(ctx, id)
}

// HoldsActiveSlot reports whether the requester currently holds an ACTIVE
// slot for the item.
func (s *Service) HoldsActiveSlot(ctx context.Context, requesterID, itemID string) (bool, error) {
	active, err := s.ledger.FindActiveSlot(ctx, requesterID, itemID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// ListRequesterSlots lists a requester's slots, optionally filtered by item.
func (s *Service) ListRequesterSlots(ctx context.Context, requesterID, itemID string) ([]slot.Slot, error) {
	return s.ledger.ListRequesterSlots(ctx, requesterID, itemID)
}

func (s *Service) appendAudit(ctx context.Context, sl slot.Slot, eventType string, from, to slot.Status, meta map[string]any) {
	var raw json.RawMessage
	if meta != nil {
		raw, _ = json.Marshal(meta)
	}
	entry := ledger.AuditEntry{
		SlotID:        sl.ID,
		EventType:     eventType,
		OldStatus:     string(from),
		NewStatus:     string(to),
		OccurredAt:    s.clock.Now(),
		CorrelationID: sl.CorrelationID,
		Metadata:      raw,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		log.Printf("[Admission] Failed to append audit entry for slot %s: %v", sl.ID, err)
	}
}
