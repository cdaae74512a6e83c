package slot

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusCompleted Status = "COMPLETED"
)

// ReclaimReason records why a slot moved to EXPIRED.
type ReclaimReason string

const (
	ReasonAutoExpired     ReclaimReason = "AUTO_EXPIRED"
	ReasonManualReclaimed ReclaimReason = "MANUAL_RECLAIMED"
)

var (
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotExpired       = errors.New("slot has expired")
	ErrNotYetExpired     = errors.New("slot lifetime has not elapsed")
	ErrInvalidTransition = errors.New("invalid slot status transition")
)

// DefaultLifetime is how long a slot stays acquirable before reclamation.
const DefaultLifetime = 30 * time.Minute

// Slot is a temporary, exclusive right to purchase one unit of an item.
// It is a value: transitions produce a new Slot rather than mutating.
type Slot struct {
	ID             string        `json:"id"`
	ItemID         string        `json:"item_id"`
	RequesterID    string        `json:"requester_id"`
	AcquiredAt     time.Time     `json:"acquired_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Status         Status        `json:"status"`
	ReclaimReason  ReclaimReason `json:"reclaim_reason,omitempty"`
	CorrelationID  string        `json:"correlation_id"`
	QueuePosition  int64         `json:"queue_position"`
	RemainingStock int64         `json:"remaining_stock"`
}

// New builds an ACTIVE slot. ExpiresAt is always acquiredAt + lifetime,
// never computed anywhere else.
func New(id, itemID, requesterID, correlationID string, acquiredAt time.Time, lifetime time.Duration) Slot {
	return Slot{
		ID:            id,
		ItemID:        itemID,
		RequesterID:   requesterID,
		AcquiredAt:    acquiredAt,
		ExpiresAt:     acquiredAt.Add(lifetime),
		Status:        StatusActive,
		CorrelationID: correlationID,
	}
}

// Remaining reports the time left before the slot lapses. Negative once past.
func (s Slot) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Lapsed reports whether the slot's lifetime has elapsed at now,
// independent of whether the reclaimer has processed it yet.
func (s Slot) Lapsed(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// validTransitions is the closed set of legal status moves.
var validTransitions = map[Status][]Status{
	StatusActive:    {StatusExpired, StatusCompleted},
	StatusExpired:   {}, // terminal
	StatusCompleted: {}, // terminal
}

func (s Slot) canTransitionTo(target Status) bool {
	for _, t := range validTransitions[s.Status] {
		if t == target {
			return true
		}
	}
	return false
}

// Expire returns a copy of the slot in EXPIRED state. The automatic path
// requires the lifetime to have elapsed; the manual path only requires the
// slot to still be ACTIVE.
func (s Slot) Expire(now time.Time, reason ReclaimReason) (Slot, error) {
	if !s.canTransitionTo(StatusExpired) {
		return Slot{}, fmt.Errorf("%w: cannot expire slot %s in status %s", ErrInvalidTransition, s.ID, s.Status)
	}
	if reason == ReasonAutoExpired && !s.Lapsed(now) {
		return Slot{}, fmt.Errorf("%w: slot %s expires at %s", ErrNotYetExpired, s.ID, s.ExpiresAt.Format(time.RFC3339))
	}
	out := s
	out.Status = StatusExpired
	out.ReclaimReason = reason
	return out, nil
}

// Complete returns a copy of the slot in COMPLETED state. A lapsed slot can
// never be completed, even if the reclaimer has not run yet.
func (s Slot) Complete(now time.Time) (Slot, error) {
	if !s.canTransitionTo(StatusCompleted) {
		return Slot{}, fmt.Errorf("%w: cannot complete slot %s in status %s", ErrInvalidTransition, s.ID, s.Status)
	}
	if s.Lapsed(now) {
		return Slot{}, fmt.Errorf("%w: slot %s expired at %s", ErrSlotExpired, s.ID, s.ExpiresAt.Format(time.RFC3339))
	}
	out := s
	out.Status = StatusCompleted
	return out, nil
}
