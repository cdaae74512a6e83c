// Package reclaim runs the background pass that returns stock from lapsed
// slots and warns holders shortly before expiry.
package reclaim

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/example/slot-admission/internal/clock"
	"github.com/example/slot-admission/internal/domain/slot"
	"github.com/example/slot-admission/internal/event"
	"github.com/example/slot-admission/internal/fairness"
	"github.com/example/slot-admission/internal/ledger"
)

// Store is the slice of the fairness store the reclaimer uses.
type Store interface {
	Items(ctx context.Context) ([]string, error)
	ExpiredBefore(ctx context.Context, itemID string, cutoff time.Time) ([]fairness.Entry, error)
	ExpiringBetween(ctx context.Context, itemID string, from, to time.Time) ([]fairness.Entry, error)
	Reclaim(ctx context.Context, itemID, requesterID string) (bool, error)
	MarkWarned(ctx context.Context, itemID, requesterID string, ttl time.Duration) (bool, error)
	Restore(ctx context.Context, itemID, requesterID string, arrivalAt time.Time, guardTTL time.Duration) error
}

// Ledger is the slice of the durable ledger the reclaimer uses.
type Ledger interface {
	FindQueueSlot(ctx context.Context, itemID, requesterID string, acquiredAt time.Time) (*slot.Slot, error)
	ListActiveSlots(ctx context.Context) ([]slot.Slot, error)
	MarkExpired(ctx context.Context, id string, reason slot.ReclaimReason) (bool, error)
}

// AuditSink appends immutable transition records.
type AuditSink interface {
	Append(ctx context.Context, entry ledger.AuditEntry) error
}

// Notifier forwards slot events best-effort.
type Notifier interface {
	Emit(ctx context.Context, ev event.SlotEvent)
}

// Reclaimer finds lapsed slots and returns their stock. Safe to run
// concurrently with itself across replicas: the store-side reclaim is
// atomic per candidate and a rerun over a reclaimed candidate is a no-op.
type Reclaimer struct {
	store    Store
	ledger   Ledger
	audit    AuditSink
	notifier Notifier
	clock    clock.Clock

	lifetime      time.Duration
	warnWindow    time.Duration
	sweepInterval time.Duration
	warnInterval  time.Duration
}

type Option func(*Reclaimer)

// WithLifetime overrides the default slot lifetime.
func WithLifetime(d time.Duration) Option {
	return func(r *Reclaimer) {
		if d > 0 {
			r.lifetime = d
		}
	}
}

// WithWarnWindow sets how long before expiry the warning event fires.
func WithWarnWindow(d time.Duration) Option {
	return func(r *Reclaimer) {
		if d > 0 {
			r.warnWindow = d
		}
	}
}

// WithIntervals sets the sweep and warning loop periods.
func WithIntervals(sweep, warn time.Duration) Option {
	return func(r *Reclaimer) {
		if sweep > 0 {
			r.sweepInterval = sweep
		}
		if warn > 0 {
			r.warnInterval = warn
		}
	}
}

func NewReclaimer(store Store, ldg Ledger, audit AuditSink, notifier Notifier, clk clock.Clock, opts ...Option) *Reclaimer {
	r := &Reclaimer{
		store:         store,
		ledger:        ldg,
		audit:         audit,
		notifier:      notifier,
		clock:         clk,
		lifetime:      slot.DefaultLifetime,
		warnWindow:    5 * time.Minute,
		sweepInterval: time.Minute,
		warnInterval:  20 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the sweep and warning loops until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	sweep := time.NewTicker(r.sweepInterval)
	warn := time.NewTicker(r.warnInterval)
	defer sweep.Stop()
	defer warn.Stop()

	log.Printf("[Reclaimer] Running (sweep %s, warn %s, lifetime %s)", r.sweepInterval, r.warnInterval, r.lifetime)

	for {
		select {
		case <-ctx.Done():
			log.Println("[Reclaimer] Stopped")
			return
		case <-sweep.C:
			if n, err := r.SweepOnce(ctx); err != nil {
				log.Printf("[Reclaimer] Sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[Reclaimer] Reclaimed %d slots", n)
			}
		case <-warn.C:
			if err := r.WarnOnce(ctx); err != nil {
				log.Printf("[Reclaimer] Warning pass failed: %v", err)
			}
		}
	}
}

// SweepOnce reclaims every candidate whose lifetime has elapsed and returns
// how many were reclaimed by this run.
func (r *Reclaimer) SweepOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	cutoff := now.Add(-r.lifetime)

	items, err := r.store.Items(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, itemID := range items {
		entries, err := r.store.ExpiredBefore(ctx, itemID, cutoff)
		if err != nil {
			log.Printf("[Reclaimer] Failed to scan item %s: %v", itemID, err)
			continue
		}
		for _, e := range entries {
			ok, err := r.store.Reclaim(ctx, itemID, e.RequesterID)
			if err != nil {
				log.Printf("[Reclaimer] Failed to reclaim %s/%s: %v", itemID, e.RequesterID, err)
				continue
			}
			if !ok {
				// Another run got there first.
				continue
			}
			reclaimed++
			r.recordExpiry(ctx, itemID, e, now)
		}
	}
	return reclaimed, nil
}

// recordExpiry writes the ledger transition, audit entry, and expiry event
// for one reclaimed candidate. The stock is already back either way; a
// ledger failure here is an inconsistency the reconciliation pass heals.
func (r *Reclaimer) recordExpiry(ctx context.Context, itemID string, e fairness.Entry, now time.Time) {
	s, err := r.ledger.FindQueueSlot(ctx, itemID, e.RequesterID, e.ArrivalAt)
	if err != nil || s == nil {
		log.Printf("[Reclaimer] INCONSISTENCY: reclaimed %s/%s has no ACTIVE ledger row (err=%v)",
			itemID, e.RequesterID, err)
		return
	}

	ok, err := r.ledger.MarkExpired(ctx, s.ID, slot.ReasonAutoExpired)
	if err != nil {
		log.Printf("[Reclaimer] INCONSISTENCY: stock returned but ledger update failed for slot %s: %v", s.ID, err)
		return
	}
	if !ok {
		return
	}

	expired := *s
	expired.Status = slot.StatusExpired
	expired.ReclaimReason = slot.ReasonAutoExpired

	meta, _ := json.Marshal(map[string]any{"reason": string(slot.ReasonAutoExpired)})
	if err := r.audit.Append(ctx, ledger.AuditEntry{
		SlotID:        s.ID,
		EventType:     event.TypeSlotExpired,
		OldStatus:     string(slot.StatusActive),
		NewStatus:     string(slot.StatusExpired),
		OccurredAt:    now,
		CorrelationID: s.CorrelationID,
		Metadata:      meta,
	}); err != nil {
		log.Printf("[Reclaimer] Failed to append audit entry for slot %s: %v", s.ID, err)
	}

	r.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotExpired, expired, now))
}

// WarnOnce emits one pre-expiry warning per slot inside the warning window.
func (r *Reclaimer) WarnOnce(ctx context.Context) error {
	now := r.clock.Now()
	// A slot expiring within warnWindow arrived between lifetime and
	// lifetime-warnWindow ago.
	from := now.Add(-r.lifetime)
	to := now.Add(-r.lifetime).Add(r.warnWindow)

	items, err := r.store.Items(ctx)
	if err != nil {
		return err
	}

	for _, itemID := range items {
		entries, err := r.store.ExpiringBetween(ctx, itemID, from, to)
		if err != nil {
			log.Printf("[Reclaimer] Failed to scan warnings for item %s: %v", itemID, err)
			continue
		}
		for _, e := range entries {
			first, err := r.store.MarkWarned(ctx, itemID, e.RequesterID, r.lifetime)
			if err != nil || !first {
				continue
			}
			s, err := r.ledger.FindQueueSlot(ctx, itemID, e.RequesterID, e.ArrivalAt)
			if err != nil || s == nil {
				continue
			}
			r.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotExpiringSoon, *s, now))
		}
	}
	return nil
}

// Reconcile rebuilds agreement between the durable ledger and the volatile
// store: lapsed ACTIVE rows are expired through the normal path, and live
// ACTIVE rows missing from the store are re-inserted with their remaining
// lifetime.
func (r *Reclaimer) Reconcile(ctx context.Context) error {
	now := r.clock.Now()

	active, err := r.ledger.ListActiveSlots(ctx)
	if err != nil {
		return err
	}

	for _, s := range active {
		if s.Lapsed(now) {
			if _, err := r.store.Reclaim(ctx, s.ItemID, s.RequesterID); err != nil {
				log.Printf("[Reclaimer] Reconcile: failed to reclaim %s/%s: %v", s.ItemID, s.RequesterID, err)
				continue
			}
			if ok, err := r.ledger.MarkExpired(ctx, s.ID, slot.ReasonAutoExpired); err == nil && ok {
				r.notifier.Emit(ctx, event.NewSlotEvent(event.TypeSlotExpired, s, now))
			}
			continue
		}
		if err := r.store.Restore(ctx, s.ItemID, s.RequesterID, s.AcquiredAt, s.Remaining(now)); err != nil {
			log.Printf("[Reclaimer] Reconcile: failed to restore %s/%s: %v", s.ItemID, s.RequesterID, err)
		}
	}
	return nil
}
