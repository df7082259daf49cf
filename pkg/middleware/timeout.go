package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds every request with a deadline on its context. Handlers that
// run into it surface context.DeadlineExceeded, which the error mapping turns
// into 504. Running the handler on the request goroutine keeps Recover in
// charge of its panics.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
