// Package requestscope pins per-request values into the context so handlers
// and the session core read one "now" and one correlation id per request.
package requestscope

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"brewlog/pkg/requestcontext"
)

// Middleware captures the request time and the request id assigned by chi's
// RequestID middleware (or the caller's X-Request-ID) into requestcontext.
// Mount it after middleware.RequestID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		id := middleware.GetReqID(ctx)
		if id == "" {
			id = r.Header.Get(middleware.RequestIDHeader)
		}
		if id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
