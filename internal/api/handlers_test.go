package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slot-admission/internal/admission"
	"github.com/example/slot-admission/internal/api/middleware"
	"github.com/example/slot-admission/internal/auth"
	"github.com/example/slot-admission/internal/clock"
	"github.com/example/slot-admission/internal/domain/item"
	"github.com/example/slot-admission/internal/mocks"
)

// =============================================================================
// Fixture
// =============================================================================

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type apiFixture struct {
	server   *httptest.Server
	jwt      *auth.JWTService
	store    *mocks.MemoryFairness
	ledger   *mocks.MemoryLedger
	notifier *mocks.RecordingNotifier
	clock    *clock.Fixed
}

func newAPIFixture(t *testing.T, stock int64) *apiFixture {
	t.Helper()

	clk := clock.NewFixed(testStart)
	catalog := mocks.NewStubCatalog(item.Item{
		ID:           "item-1",
		Name:         "Limited Sneaker",
		Price:        12900,
		TotalStock:   stock,
		SalesStartAt: testStart.Add(-time.Hour),
		CreatedAt:    testStart.Add(-time.Hour),
	})
	store := mocks.NewMemoryFairness()
	require.NoError(t, store.SeedStock(context.Background(), "item-1", stock))
	ldg := mocks.NewMemoryLedger()
	notifier := mocks.NewRecordingNotifier()

	svc := admission.NewService(catalog, store, ldg, mocks.NewMemoryAudit(), notifier, clk)
	registrar := item.NewRegistrar(catalog, store, clk)
	jwtService := auth.NewJWTService("test-secret", time.Hour)
	limiter := middleware.NewLimiterStore(1000, 1000)

	handlers := NewHandlers(svc, registrar, store, clk)
	srv := httptest.NewServer(NewRouter(handlers, jwtService, limiter))
	t.Cleanup(srv.Close)

	return &apiFixture{
		server:   srv,
		jwt:      jwtService,
		store:    store,
		ledger:   ldg,
		notifier: notifier,
		clock:    clk,
	}
}

func (f *apiFixture) token(t *testing.T, requesterID, role string) string {
	t.Helper()
	token, _, err := f.jwt.GenerateToken(requesterID, role)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// POST /slots
// =============================================================================

func TestAcquireSlot(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
		map[string]string{"item_id": "item-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[slotResponse](t, resp)
	assert.NotEmpty(t, body.SlotID)
	assert.Equal(t, "item-1", body.ItemID)
	assert.Equal(t, "alice", body.RequesterID)
	assert.Equal(t, "ACTIVE", body.Status)
	assert.Equal(t, int64(1), body.QueuePosition)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), body.RemainingMs)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}

func TestAcquireSlotRequiresAuth(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/slots", "", map[string]string{"item_id": "item-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAcquireSlotValidation(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"), map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "BAD_REQUEST", body["code"])
	assert.NotEmpty(t, body["correlation_id"])
}

func TestAcquireSlotErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *apiFixture)
		itemID     string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown item is 404",
			setup:      func(t *testing.T, f *apiFixture) {},
			itemID:     "item-404",
			wantStatus: http.StatusNotFound,
			wantCode:   "ITEM_NOT_FOUND",
		},
		{
			name: "duplicate holder is 409",
			setup: func(t *testing.T, f *apiFixture) {
				resp := f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
					map[string]string{"item_id": "item-1"})
				require.Equal(t, http.StatusCreated, resp.StatusCode)
			},
			itemID:     "item-1",
			wantStatus: http.StatusConflict,
			wantCode:   "DUPLICATE_SLOT",
		},
		{
			name: "exhausted stock is 410",
			setup: func(t *testing.T, f *apiFixture) {
				resp := f.do(t, http.MethodPost, "/slots", f.token(t, "bob", "user"),
					map[string]string{"item_id": "item-1"})
				require.Equal(t, http.StatusCreated, resp.StatusCode)
			},
			itemID:     "item-1",
			wantStatus: http.StatusGone,
			wantCode:   "OUT_OF_STOCK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, 1)
			tt.setup(t, f)

			resp := f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
				map[string]string{"item_id": tt.itemID})
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decode[map[string]string](t, resp)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["correlation_id"])
		})
	}
}

func TestAcquireSlotStoreFailureIs503(t *testing.T) {
	f := newAPIFixture(t, 3)
	f.store.AllocateErr = assert.AnError

	resp := f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
		map[string]string{"item_id": "item-1"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ALLOCATION_FAILED", body["code"])
}

// =============================================================================
// Slot queries
// =============================================================================

func TestGetSlot(t *testing.T) {
	f := newAPIFixture(t, 3)

	created := decode[slotResponse](t, f.do(t, http.MethodPost, "/slots",
		f.token(t, "alice", "user"), map[string]string{"item_id": "item-1"}))

	resp := f.do(t, http.MethodGet, "/slots/"+created.SlotID, f.token(t, "alice", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[slotResponse](t, resp)
	assert.Equal(t, created.SlotID, body.SlotID)
	assert.Equal(t, "ACTIVE", body.Status)
}

func TestGetSlotHidesOtherRequesters(t *testing.T) {
	f := newAPIFixture(t, 3)

	created := decode[slotResponse](t, f.do(t, http.MethodPost, "/slots",
		f.token(t, "alice", "user"), map[string]string{"item_id": "item-1"}))

	resp := f.do(t, http.MethodGet, "/slots/"+created.SlotID, f.token(t, "bob", "user"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// An admin can inspect any slot.
	resp = f.do(t, http.MethodGet, "/slots/"+created.SlotID, f.token(t, "ops", "admin"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSlotNotFound(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodGet, "/slots/no-such-slot", f.token(t, "alice", "user"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "SLOT_NOT_FOUND", body["code"])
}

func TestListSlots(t *testing.T) {
	f := newAPIFixture(t, 3)

	f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
		map[string]string{"item_id": "item-1"})

	resp := f.do(t, http.MethodGet, "/slots?item_id=item-1", f.token(t, "alice", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[[]slotResponse](t, resp)
	require.Len(t, body, 1)
	assert.Equal(t, "alice", body[0].RequesterID)

	// Other requesters see an empty list, not alice's slots.
	resp = f.do(t, http.MethodGet, "/slots", f.token(t, "bob", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]slotResponse](t, resp))
}

func TestActiveSlot(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodGet, "/slots/active?item_id=item-1", f.token(t, "alice", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[map[string]bool](t, resp)["active"])

	f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
		map[string]string{"item_id": "item-1"})

	resp = f.do(t, http.MethodGet, "/slots/active?item_id=item-1", f.token(t, "alice", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, resp)["active"])
}

func TestItemAvailability(t *testing.T) {
	f := newAPIFixture(t, 5)

	f.do(t, http.MethodPost, "/slots", f.token(t, "alice", "user"),
		map[string]string{"item_id": "item-1"})

	resp := f.do(t, http.MethodGet, "/items/item-1/availability", f.token(t, "bob", "user"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(4), body["stock"])
	assert.Equal(t, int64(1), body["queue_size"])
}

// =============================================================================
// Admin surface
// =============================================================================

func TestRegisterItem(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/admin/items", f.token(t, "ops", "admin"), map[string]any{
		"id":          "item-2",
		"name":        "Signed Vinyl",
		"price":       4500,
		"total_stock": 20,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[item.Item](t, resp)
	assert.Equal(t, "item-2", body.ID)
	assert.Equal(t, int64(20), body.TotalStock)

	stock, err := f.store.Stock(context.Background(), "item-2")
	require.NoError(t, err)
	assert.Equal(t, int64(20), stock)
}

func TestRegisterItemRejectsNonAdmin(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/admin/items", f.token(t, "alice", "user"), map[string]any{
		"id":          "item-2",
		"name":        "Signed Vinyl",
		"total_stock": 20,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRegisterItemInvalidStock(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/admin/items", f.token(t, "ops", "admin"), map[string]any{
		"id":          "item-2",
		"name":        "Signed Vinyl",
		"total_stock": 0,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_STOCK", decode[map[string]string](t, resp)["code"])
}

func TestReclaimSlot(t *testing.T) {
	f := newAPIFixture(t, 3)

	created := decode[slotResponse](t, f.do(t, http.MethodPost, "/slots",
		f.token(t, "alice", "user"), map[string]string{"item_id": "item-1"}))

	path := fmt.Sprintf("/admin/slots/%s/reclaim", created.SlotID)
	resp := f.do(t, http.MethodPost, path, f.token(t, "ops", "admin"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[slotResponse](t, resp)
	assert.Equal(t, "EXPIRED", body.Status)
	assert.Equal(t, "MANUAL_RECLAIMED", body.ReclaimReason)

	stock, err := f.store.Stock(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock)

	// Reclaiming twice hits the terminal-state guard.
	resp = f.do(t, http.MethodPost, path, f.token(t, "ops", "admin"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReclaimSlotRejectsNonAdmin(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodPost, "/admin/slots/some-slot/reclaim",
		f.token(t, "alice", "user"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// Cross-cutting
// =============================================================================

func TestCorrelationIDPropagation(t *testing.T) {
	f := newAPIFixture(t, 3)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/slots",
		bytes.NewBufferString(`{"item_id":"item-1"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t, "alice", "user"))
	req.Header.Set("X-Correlation-ID", "corr-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "corr-123", resp.Header.Get("X-Correlation-ID"))

	events := f.notifier.ByType("SLOT_ACQUIRED")
	require.Len(t, events, 1)
	assert.Equal(t, "corr-123", events[0].CorrelationID)
}

func TestHealthEndpointNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t, 3)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
