package gateway

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns a request id when the client did not send one, mirrors it
// on the response, and forwards it downstream for log correlation.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			out := r.Clone(r.Context())
			out.Header.Set(requestIDHeader, id)
			next.ServeHTTP(w, out)
		})
	}
}
