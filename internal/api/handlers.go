package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MeditationVisual/internal/gateway"
	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(v)
}

// configChecker is implemented by generators that can report a missing credential up front.
type configChecker interface {
	CheckConfigured() error
}

// generateHandler is the generation gateway endpoint. Every failure is a 500 with {error}.
func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	slog.Debug("Server.generateHandler: processing generate request", "remote", r.RemoteAddr)

	if s.generator == nil {
		slog.Error("Server.generateHandler: no generator configured")
		writeGenerateError(w, gateway.NewError(gateway.KindConfigMissing, "Image generation not configured", nil))
		return
	}

	// The credential is checked before the body is read.
	if checker, ok := s.generator.(configChecker); ok {
		if err := checker.CheckConfigured(); err != nil {
			writeGenerateError(w, err)
			return
		}
	}

	var req models.GenerationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.generateHandler: failed to decode JSON", "error", err)
		msg := "Invalid JSON format"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		writeGenerateError(w, gateway.NewError(gateway.KindMalformedInput, msg, err))
		return
	}

	url, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		writeGenerateError(w, err)
		return
	}
	slog.Info("Server.generateHandler: image generated")
	writeJSONResponse(w, http.StatusOK, models.GenerationResponse{ImageURL: url})
}

func writeGenerateError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	slog.Warn("Server.generateHandler: generation failed", "kind", kind, "error", err)
	w.Header().Set(gateway.KindHeader, string(kind))
	writeJSONResponse(w, http.StatusInternalServerError, models.GenerationResponse{Error: err.Error()})
}

func (s *Server) emotionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.catalog.Emotions())
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Receipt store not configured"))
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to load receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load receipts"))
		return
	}
	if session := r.URL.Query().Get("session"); session != "" {
		filtered := receipts[:0]
		for _, rc := range receipts {
			if rc.SessionID == session {
				filtered = append(filtered, rc)
			}
		}
		receipts = filtered
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSONResponse(w, http.StatusOK, receipts)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success("healthy"))
}
