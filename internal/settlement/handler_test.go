package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slot-admission/internal/domain/slot"
	"github.com/example/slot-admission/internal/event"
)

type fakeCompleter struct {
	calls []string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, slotID, correlationID string) (slot.Slot, error) {
	f.calls = append(f.calls, slotID)
	if f.err != nil {
		return slot.Slot{}, f.err
	}
	return slot.Slot{ID: slotID, Status: slot.StatusCompleted}, nil
}

func marshal(t *testing.T, ev event.PaymentCompleted) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func paymentEvent(slotID string) event.PaymentCompleted {
	return event.PaymentCompleted{
		EventID:       "evt-1",
		EventType:     event.TypePaymentCompleted,
		OccurredAt:    time.Now().UTC(),
		SlotID:        slotID,
		CorrelationID: "corr-1",
	}
}

func TestHandler_CompletesSlot(t *testing.T) {
	completer := &fakeCompleter{}
	h := NewHandler(completer)

	err := h.HandleEvent(context.Background(), nil, marshal(t, paymentEvent("slot-1")))

	require.NoError(t, err)
	assert.Equal(t, []string{"slot-1"}, completer.calls)
}

func TestHandler_IgnoresOtherEventTypes(t *testing.T) {
	completer := &fakeCompleter{}
	h := NewHandler(completer)

	ev := paymentEvent("slot-1")
	ev.EventType = "SOMETHING_ELSE"
	err := h.HandleEvent(context.Background(), nil, marshal(t, ev))

	require.NoError(t, err)
	assert.Empty(t, completer.calls)
}

func TestHandler_BusinessRejectionsAreFinal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unknown slot", slot.ErrSlotNotFound},
		{"lapsed slot", slot.ErrSlotExpired},
		{"already transitioned", slot.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{err: tt.err}
			h := NewHandler(completer)

			err := h.HandleEvent(context.Background(), nil, marshal(t, paymentEvent("slot-1")))

			assert.NoError(t, err, "final rejection must not trigger redelivery")
		})
	}
}

func TestHandler_InfrastructureErrorsPropagate(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("db down")}
	h := NewHandler(completer)

	err := h.HandleEvent(context.Background(), nil, marshal(t, paymentEvent("slot-1")))

	assert.Error(t, err)
}

func TestHandler_MalformedPayloadSkipped(t *testing.T) {
	completer := &fakeCompleter{}
	h := NewHandler(completer)

	err := h.HandleEvent(context.Background(), nil, []byte("{not json"))

	require.NoError(t, err)
	assert.Empty(t, completer.calls)
}
