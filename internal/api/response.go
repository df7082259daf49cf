package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/middleware"
)

type envelope struct {
	Status  string            `json:"status"`
	Data    any               `json:"data,omitempty"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to write response", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data})
}

// writeError maps err to a status code and writes the error envelope.
// Unexpected failures get the internal error body carrying the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, envelope{Status: "error", Message: message, Errors: verr.Fields})
		return
	}

	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(message,
			"error", err,
			"status_code", status,
			"method", r.Method,
			"path", r.URL.Path,
			"body", middleware.BodyExcerpt(r),
		)
	} else {
		log.Warn(message, "error", err, "status_code", status)
	}

	if status == http.StatusInternalServerError {
		middleware.WriteInternalError(w, logger.RequestID(r.Context()), err)
		return
	}
	writeJSON(w, status, envelope{Status: "error", Message: message})
}
