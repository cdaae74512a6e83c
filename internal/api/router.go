package api

import (
	"net/http"
	"strings"

	"github.com/example/slot-admission/internal/api/middleware"
	"github.com/example/slot-admission/internal/auth"
)

// NewRouter wires the HTTP surface. Middleware order matters: the arrival
// timestamp is captured before auth or rate limiting can add latency.
func NewRouter(h *Handlers, jwtService *auth.JWTService, limiter *middleware.LimiterStore) http.Handler {
	mux := http.NewServeMux()

	authed := func(fn http.HandlerFunc) http.Handler {
		return middleware.Auth(jwtService)(middleware.RateLimit(limiter)(fn))
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return middleware.Auth(jwtService)(middleware.RequireAdmin(fn))
	}

	mux.Handle("/slots", authed(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.AcquireSlot(w, r)
		case http.MethodGet:
			h.ListSlots(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle("/slots/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/slots/active" {
			h.ActiveSlot(w, r)
			return
		}
		h.GetSlot(w, r)
	}))

	mux.Handle("/items/", authed(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasSuffix(r.URL.Path, "/availability") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ItemAvailability(w, r)
	}))

	mux.Handle("/admin/items", admin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.RegisterItem(w, r)
	}))

	mux.Handle("/admin/slots/", admin(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/reclaim") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ReclaimSlot(w, r)
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return middleware.RequestContext(mux)
}
