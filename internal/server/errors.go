package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/inference"
	"github.com/hydrolens/microscan/internal/pipeline"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// sendPipelineError maps a detection failure onto a status code.
func sendPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		sendErrorResponse(w, "invalid_image", err.Error(), http.StatusBadRequest)
	case errors.Is(err, pipeline.ErrProposerUnavailable),
		errors.Is(err, inference.ErrPoolClosed),
		errors.Is(err, inference.ErrAcquireTimeout):
		sendErrorResponse(w, "session_error", err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		sendErrorResponse(w, "timeout", "processing timed out", http.StatusGatewayTimeout)
	default:
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
	}
}
