// Package httpmw holds small HTTP middleware shared by the control plane's
// server, kept separate from internal/httpapi so it stays framework-light.
// Grounded on the teacher's internal/http/middleware/request_id.go.
package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader is the HTTP header carrying the request ID, both inbound
// (caller-supplied) and outbound (echoed or generated).
const RequestIDHeader = "X-Request-ID"

// RequestID injects a request ID into the request context and echoes it on
// the response, generating a UUID when the caller didn't supply one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID stashed in ctx by RequestID, or "" if
// none is present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
