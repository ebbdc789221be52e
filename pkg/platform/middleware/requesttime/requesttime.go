// Package requesttime captures one timestamp per request. Handlers read it
// with requestcontext.Now to measure how long the request has been running.
package requesttime

import (
	"net/http"
	"time"

	"portalquejas/pkg/requestcontext"
)

// Middleware stores the request start time in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
