package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MeditationVisual/internal/flow"
	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/messaging"
	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeErrorResponse writes the {error} envelope with a status derived from err.
func writeErrorResponse(w http.ResponseWriter, err error) {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		w.Header().Set(gateway.KindHeader, string(gerr.Kind))
	}
	writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
}

// statusForError maps session API errors to HTTP status codes.
func statusForError(err error) int {
	var gerr *gateway.Error
	switch {
	case errors.Is(err, flow.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrUnknownEmotion),
		errors.Is(err, flow.ErrUnknownTheme),
		errors.Is(err, messaging.ErrEmptyRecipient),
		errors.Is(err, messaging.ErrInvalidRecipient):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrInvalidTransition),
		errors.Is(err, flow.ErrGenerationInFlight),
		errors.Is(err, flow.ErrImageNotReady),
		errors.Is(err, flow.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, flow.ErrDownloadUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &gerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
