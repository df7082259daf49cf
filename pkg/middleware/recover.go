package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
)

// Recover converts panics into a structured 500 response so no request is
// left without an answer. The panic is logged with method, path, body
// excerpt, request id and stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = captureBody(r)
		sw := wrapStatus(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestID := logger.RequestID(r.Context())
			logger.FromContext(r.Context()).Error("panic while serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"body", BodyExcerpt(r),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			if sw.wroteHeader {
				return
			}
			WriteInternalError(sw, requestID, fmt.Errorf("%v", rec))
		}()
		next.ServeHTTP(sw, r)
	})
}

// WriteInternalError writes the JSON body used for unexpected failures.
func WriteInternalError(w http.ResponseWriter, requestID string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "error",
		"message":    "An unexpected error occurred",
		"error":      err.Error(),
		"request_id": requestID,
	})
}
