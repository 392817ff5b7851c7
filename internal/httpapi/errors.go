package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

type errorResponse struct {
	Detail       string `json:"detail"`
	UnitsWritten *int   `json:"units_written,omitempty"`
	UnitsCreated *int   `json:"units_created,omitempty"`
}

// statusFor maps pipeline errors to HTTP status codes. Provider sentinels
// win over a deadline wrapped inside them.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrNoIndex):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmbeddingUnavailable),
		errors.Is(err, domain.ErrSynthesisUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrVectorStoreWrite),
		errors.Is(err, domain.ErrVectorStoreQuery):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Detail: err.Error()}
	var pw *domain.PartialWriteError
	if errors.As(err, &pw) {
		resp.UnitsWritten = &pw.Written
		resp.UnitsCreated = &pw.Created
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed (%d): %v", status, err)
	} else {
		logger.Debug("Request rejected (%d): %v", status, err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}
