// Package settlement turns payment-completed messages from the billing
// collaborator into slot completions.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/example/slot-admission/internal/domain/slot"
	"github.com/example/slot-admission/internal/event"
)

// Completer is the admission-side completion entry point.
type Completer interface {
	Complete(ctx context.Context, slotID, correlationID string) (slot.Slot, error)
}

// Handler processes settlement events from Kafka.
type Handler struct {
	completer Completer
}

func NewHandler(completer Completer) *Handler {
	return &Handler{completer: completer}
}

// HandleEvent consumes one message. Business rejections (unknown slot,
// lapsed slot, already transitioned) are final: they are logged and the
// message is not retried. Anything else propagates so the at-least-once
// consumer redelivers.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var ev event.PaymentCompleted
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("[Settlement] Failed to unmarshal event: %v", err)
		return nil
	}

	if ev.EventType != event.TypePaymentCompleted {
		return nil
	}
	if ev.SlotID == "" {
		log.Printf("[Settlement] Event %s has no slot id", ev.EventID)
		return nil
	}

	completed, err := h.completer.Complete(ctx, ev.SlotID, ev.CorrelationID)
	switch {
	case err == nil:
		log.Printf("[Settlement] Slot %s completed (corr %s)", completed.ID, ev.CorrelationID)
		return nil
	case errors.Is(err, slot.ErrSlotNotFound),
		errors.Is(err, slot.ErrSlotExpired),
		errors.Is(err, slot.ErrInvalidTransition):
		log.Printf("[Settlement] Rejected completion of slot %s (corr %s): %v", ev.SlotID, ev.CorrelationID, err)
		return nil
	default:
		return err
	}
}
