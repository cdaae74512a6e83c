package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/slot-admission/internal/admission"
	"github.com/example/slot-admission/internal/api/middleware"
	"github.com/example/slot-admission/internal/clock"
	"github.com/example/slot-admission/internal/domain/item"
	"github.com/example/slot-admission/internal/domain/slot"
)

// AdmissionService is the slice of the admission controller the boundary
// consumes.
type AdmissionService interface {
	Acquire(ctx context.Context, in admission.AcquireInput) (slot.Slot, error)
	ReclaimManual(ctx context.Context, slotID, correlationID string) (slot.Slot, error)
	GetSlot(ctx context.Context, id string) (slot.Slot, error)
	HoldsActiveSlot(ctx context.Context, requesterID, itemID string) (bool, error)
	ListRequesterSlots(ctx context.Context, requesterID, itemID string) ([]slot.Slot, error)
}

// Registrar registers items and seeds their stock.
type Registrar interface {
	Register(ctx context.Context, in item.RegisterInput) (item.Item, error)
}

// AvailabilityReader serves the best-effort availability view. Never used
// to gate an allocation.
type AvailabilityReader interface {
	Stock(ctx context.Context, itemID string) (int64, error)
	QueueSize(ctx context.Context, itemID string) (int64, error)
}

type Handlers struct {
	svc          AdmissionService
	registrar    Registrar
	availability AvailabilityReader
	clock        clock.Clock
}

func NewHandlers(svc AdmissionService, registrar Registrar, availability AvailabilityReader, clk clock.Clock) *Handlers {
	return &Handlers{
		svc:          svc,
		registrar:    registrar,
		availability: availability,
		clock:        clk,
	}
}

type slotResponse struct {
	SlotID        string `json:"slot_id"`
	ItemID        string `json:"item_id"`
	RequesterID   string `json:"requester_id"`
	Status        string `json:"status"`
	AcquiredAt    string `json:"acquired_at"`
	ExpiresAt     string `json:"expires_at"`
	QueuePosition int64  `json:"queue_position,omitempty"`
	RemainingMs   int64  `json:"remaining_ms"`
	ReclaimReason string `json:"reclaim_reason,omitempty"`
}

func (h *Handlers) slotResponse(s slot.Slot) slotResponse {
	remaining := s.Remaining(h.clock.Now()).Milliseconds()
	if s.Status != slot.StatusActive || remaining < 0 {
		remaining = 0
	}
	return slotResponse{
		SlotID:        s.ID,
		ItemID:        s.ItemID,
		RequesterID:   s.RequesterID,
		Status:        string(s.Status),
		AcquiredAt:    s.AcquiredAt.Format(time.RFC3339Nano),
		ExpiresAt:     s.ExpiresAt.Format(time.RFC3339Nano),
		QueuePosition: s.QueuePosition,
		RemainingMs:   remaining,
		ReclaimReason: string(s.ReclaimReason),
	}
}

// AcquireSlot handles POST /slots.
func (h *Handlers) AcquireSlot(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		respondError(w, r, http.StatusBadRequest, "BAD_REQUEST", "item_id is required")
		return
	}

	s, err := h.svc.Acquire(r.Context(), admission.AcquireInput{
		RequesterID:   claims.RequesterID,
		ItemID:        req.ItemID,
		ArrivalAt:     middleware.ArrivalTime(r.Context()),
		CorrelationID: middleware.CorrelationID(r.Context()),
	})
	if err != nil {
		respondAdmissionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.slotResponse(s))
}

// GetSlot handles GET /slots/{id}.
func (h *Handlers) GetSlot(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	id := extractPathParam(r.URL.Path, "/slots/")

	s, err := h.svc.GetSlot(r.Context(), id)
	if errors.Is(err, slot.ErrSlotNotFound) {
		respondError(w, r, http.StatusNotFound, "SLOT_NOT_FOUND", "slot not found")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	if claims == nil || (s.RequesterID != claims.RequesterID && !claims.IsAdmin()) {
		respondError(w, r, http.StatusForbidden, "FORBIDDEN", "not your slot")
		return
	}

	respondJSON(w, http.StatusOK, h.slotResponse(s))
}

// ListSlots handles GET /slots, listing the caller's slots.
func (h *Handlers) ListSlots(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	slots, err := h.svc.ListRequesterSlots(r.Context(), claims.RequesterID, r.URL.Query().Get("item_id"))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, h.slotResponse(s))
	}
	respondJSON(w, http.StatusOK, out)
}

// ActiveSlot handles GET /slots/active?item_id=.
func (h *Handlers) ActiveSlot(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		respondError(w, r, http.StatusBadRequest, "BAD_REQUEST", "item_id is required")
		return
	}

	active, err := h.svc.HoldsActiveSlot(r.Context(), claims.RequesterID, itemID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"active": active})
}

// ItemAvailability handles GET /items/{id}/availability. Best-effort view;
// the numbers may trail the store.
func (h *Handlers) ItemAvailability(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/items/"), "/availability")

	stock, err := h.availability.Stock(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "availability unavailable")
		return
	}
	queueSize, err := h.availability.QueueSize(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "availability unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{
		"stock":      stock,
		"queue_size": queueSize,
	})
}

// RegisterItem handles POST /admin/items.
func (h *Handlers) RegisterItem(w http.ResponseWriter, r *http.Request) {
	var req item.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	it, err := h.registrar.Register(r.Context(), req)
	if errors.Is(err, item.ErrInvalidStock) {
		respondError(w, r, http.StatusBadRequest, "INVALID_STOCK", "total_stock must be positive")
		return
	}
	if err != nil {
		log.Printf("[API] Failed to register item: %v", err)
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, it)
}

// ReclaimSlot handles POST /admin/slots/{id}/reclaim.
func (h *Handlers) ReclaimSlot(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/admin/slots/"), "/reclaim")

	s, err := h.svc.ReclaimManual(r.Context(), id, middleware.CorrelationID(r.Context()))
	if errors.Is(err, slot.ErrSlotNotFound) {
		respondError(w, r, http.StatusNotFound, "SLOT_NOT_FOUND", "slot not found")
		return
	}
	if errors.Is(err, slot.ErrInvalidTransition) {
		respondError(w, r, http.StatusConflict, "INVALID_TRANSITION", "slot is not active")
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	respondJSON(w, http.StatusOK, h.slotResponse(s))
}

// respondAdmissionError maps typed admission failures to boundary statuses.
func respondAdmissionError(w http.ResponseWriter, r *http.Request, err error) {
	var admErr *admission.Error
	if !errors.As(err, &admErr) {
		log.Printf("[API] Unexpected acquire error: %v", err)
		respondError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch admErr.Code {
	case admission.CodeItemNotFound:
		status = http.StatusNotFound
	case admission.CodeItemNotAvailable, admission.CodeDuplicateSlot:
		status = http.StatusConflict
	case admission.CodeOutOfStock:
		status = http.StatusGone
	case admission.CodeAllocationFailed:
		status = http.StatusServiceUnavailable
	}

	respondError(w, r, status, string(admErr.Code), admErr.Err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, status, map[string]string{
		"error":          message,
		"code":           code,
		"correlation_id": middleware.CorrelationID(r.Context()),
	})
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}
