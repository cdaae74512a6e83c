package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationContextKey contextKey = "correlation_id"
	arrivalContextKey     contextKey = "arrival_at"
)

// RequestContext stamps every request with its arrival timestamp and a
// correlation id. The arrival time is the fairness ordering key, so it is
// captured here, before auth, rate limiting, or any business work.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrival := time.Now().UTC()

		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), arrivalContextKey, arrival)
		ctx = context.WithValue(ctx, correlationContextKey, correlationID)

		w.Header().Set("X-Correlation-ID", correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the request's correlation id, if stamped.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationContextKey).(string)
	return id
}

// ArrivalTime returns the request's arrival timestamp, falling back to now
// when the middleware did not run (direct handler tests).
func ArrivalTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(arrivalContextKey).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
