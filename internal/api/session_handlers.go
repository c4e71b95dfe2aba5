package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/BTreeMap/MeditationVisual/internal/flow"
	"github.com/BTreeMap/MeditationVisual/internal/messaging"
	"github.com/BTreeMap/MeditationVisual/internal/models"
)

// session resolves the {id} path value, writing the error response when it fails.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*flow.Controller, bool) {
	if s.registry == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Sessions not enabled"))
		return nil, false
	}
	c, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeErrorResponse(w, err)
		return nil, false
	}
	return c, true
}

// waitRequested reports whether the caller asked to block until generation settles.
func waitRequested(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("wait"))
	return err == nil && v
}

// respondAfterGeneration answers 202 with the loading snapshot, or waits and answers 200.
func respondAfterGeneration(w http.ResponseWriter, r *http.Request, c *flow.Controller) {
	if !waitRequested(r) {
		writeJSONResponse(w, http.StatusAccepted, c.Snapshot())
		return
	}
	if err := c.Wait(r.Context()); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Debug("respondAfterGeneration: client went away while waiting", "session", c.ID())
			return
		}
		writeJSONResponse(w, http.StatusAccepted, c.Snapshot())
		return
	}
	writeJSONResponse(w, http.StatusOK, c.Snapshot())
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Sessions not enabled"))
		return
	}
	c := s.registry.Create()
	w.Header().Set("Location", "/api/sessions/"+c.ID())
	writeJSONResponse(w, http.StatusCreated, c.Snapshot())
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, c.Snapshot())
}

func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Sessions not enabled"))
		return
	}
	if err := s.registry.Delete(r.PathValue("id")); err != nil {
		writeErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectEmotionHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var sel models.EmotionSelection
	if err := decodeJSON(w, r, &sel); err != nil {
		slog.Warn("Server.selectEmotionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := sel.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := c.SelectEmotion(sel.Emotion); err != nil {
		slog.Warn("Server.selectEmotionHandler: selection rejected", "session", c.ID(), "error", err)
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, c.Snapshot())
}

func (s *Server) selectThemeHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var sel models.ThemeSelection
	if err := decodeJSON(w, r, &sel); err != nil {
		slog.Warn("Server.selectThemeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := sel.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := c.SelectTheme(sel.Theme); err != nil {
		slog.Warn("Server.selectThemeHandler: selection rejected", "session", c.ID(), "error", err)
		writeErrorResponse(w, err)
		return
	}
	respondAfterGeneration(w, r, c)
}

func (s *Server) backHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := c.Back(); err != nil {
		writeErrorResponse(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, c.Snapshot())
}

func (s *Server) retryHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := c.Retry(); err != nil {
		writeErrorResponse(w, err)
		return
	}
	respondAfterGeneration(w, r, c)
}

func (s *Server) startOverHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	c.StartOver()
	writeJSONResponse(w, http.StatusOK, c.Snapshot())
}

func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	img, err := c.Download(r.Context())
	if err != nil {
		writeErrorResponse(w, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": img.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		slog.Error("Server.downloadHandler: failed to write image", "session", c.ID(), "error", err)
	}
}

func (s *Server) shareHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.sharer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Sharing not configured"))
		return
	}
	var req models.ShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	snap := c.Snapshot()
	if snap.Status != flow.StatusReady {
		writeErrorResponse(w, flow.ErrImageNotReady)
		return
	}
	share := messaging.Share{Emotion: snap.Emotion, Theme: snap.Theme, ImageURL: snap.ImageURL}
	if err := s.sharer.Share(r.Context(), req.To, share); err != nil {
		if errors.Is(err, messaging.ErrInvalidRecipient) || errors.Is(err, messaging.ErrEmptyRecipient) {
			writeErrorResponse(w, err)
			return
		}
		slog.Error("Server.shareHandler: share failed", "session", c.ID(), "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to share image"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(fmt.Sprintf("Image shared with %s", req.To)))
}
