package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/slot-admission/internal/domain/slot"
)

// Outbound event types consumed by billing and messaging collaborators.
const (
	TypeSlotAcquired     = "SLOT_ACQUIRED"
	TypeSlotExpiringSoon = "SLOT_EXPIRING_SOON"
	TypeSlotExpired      = "SLOT_EXPIRED"
	TypeSlotCompleted    = "SLOT_COMPLETED"
)

// Inbound settlement event type.
const TypePaymentCompleted = "PAYMENT_COMPLETED"

// SlotEvent is the envelope published for every slot transition. Delivery
// is at-least-once and keyed by requester id, so consumers see one
// requester's events in order and must be idempotent.
type SlotEvent struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAt    time.Time `json:"occurredAt"`
	SlotID        string    `json:"slotId"`
	RequesterID   string    `json:"requesterId"`
	ItemID        string    `json:"itemId"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CorrelationID string    `json:"correlationId"`
	ReclaimReason string    `json:"reclaimReason,omitempty"`
}

// NewSlotEvent builds an envelope for a slot in its current state.
func NewSlotEvent(eventType string, s slot.Slot, occurredAt time.Time) SlotEvent {
	return SlotEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		OccurredAt:    occurredAt,
		SlotID:        s.ID,
		RequesterID:   s.RequesterID,
		ItemID:        s.ItemID,
		AcquiredAt:    s.AcquiredAt,
		ExpiresAt:     s.ExpiresAt,
		CorrelationID: s.CorrelationID,
		ReclaimReason: string(s.ReclaimReason),
	}
}

// PaymentCompleted is the settlement collaborator's signal that a slot's
// transaction settled.
type PaymentCompleted struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	OccurredAt    time.Time `json:"occurredAt"`
	SlotID        string    `json:"slotId"`
	CorrelationID string    `json:"correlationId"`
}
