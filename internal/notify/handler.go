package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/example/slot-admission/internal/event"
)

// Message is one requester-facing notification.
type Message struct {
	RequesterID string
	Subject     string
	Body        string
}

// Sink delivers notifications. Delivery failures are returned so the
// consumer can redeliver.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// LogSink writes notifications to the process log. Stands in for a real
// delivery channel in environments without one.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, msg Message) error {
	log.Printf("[Notify] To %s: %s — %s", msg.RequesterID, msg.Subject, msg.Body)
	return nil
}

// Handler turns slot lifecycle events into requester notifications.
type Handler struct {
	sink Sink
}

func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// HandleEvent processes one slot event from Kafka. Unknown and malformed
// events are skipped; only delivery failures propagate.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var ev event.SlotEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("[Notify] Skipping malformed event: %v", err)
		return nil
	}

	msg, ok := h.compose(ev)
	if !ok {
		return nil
	}
	return h.sink.Send(ctx, msg)
}

func (h *Handler) compose(ev event.SlotEvent) (Message, bool) {
	switch ev.EventType {
	case event.TypeSlotAcquired:
		return Message{
			RequesterID: ev.RequesterID,
			Subject:     "Purchase right secured",
			Body: fmt.Sprintf("Your purchase right for item %s is active until %s.",
				ev.ItemID, ev.ExpiresAt.Format(time.RFC3339)),
		}, true
	case event.TypeSlotExpiringSoon:
		return Message{
			RequesterID: ev.RequesterID,
			Subject:     "Purchase right expiring soon",
			Body: fmt.Sprintf("Your purchase right for item %s expires at %s. Complete your purchase to keep it.",
				ev.ItemID, ev.ExpiresAt.Format(time.RFC3339)),
		}, true
	case event.TypeSlotExpired:
		return Message{
			RequesterID: ev.RequesterID,
			Subject:     "Purchase right expired",
			Body:        fmt.Sprintf("Your purchase right for item %s has expired and was released.", ev.ItemID),
		}, true
	case event.TypeSlotCompleted:
		return Message{
			RequesterID: ev.RequesterID,
			Subject:     "Purchase confirmed",
			Body:        fmt.Sprintf("Your purchase of item %s is confirmed.", ev.ItemID),
		}, true
	default:
		return Message{}, false
	}
}
