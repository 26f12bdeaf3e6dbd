package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lexconsult/consult-control-plane/internal/auth"
	"github.com/lexconsult/consult-control-plane/internal/consult"
	"github.com/lexconsult/consult-control-plane/internal/model"
	"github.com/lexconsult/consult-control-plane/internal/store"
)

type participantsRequest struct {
	Count *int `json:"count"`
}

type ratingRequest struct {
	Score  int    `json:"score"`
	Review string `json:"review"`
}

// party resolves the consultation in the URL and the caller's side of it.
func (s *Server) party(w http.ResponseWriter, r *http.Request) (*model.Consultation, model.Role, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return nil, "", false
	}
	c, err := s.consultations.GetConsultation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", "consultation not found")
			return nil, "", false
		}
		s.log.Error().Err(err).Str("session_id", chi.URLParam(r, "id")).Msg("consultation lookup failed")
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to query consultation")
		return nil, "", false
	}
	role, ok := c.PartyRole(userID)
	if !ok {
		writeAPIError(w, http.StatusForbidden, "forbidden", "not a party to this consultation")
		return nil, "", false
	}
	if claimed, ok := auth.RoleFromContext(r.Context()); ok && claimed != role {
		writeAPIError(w, http.StatusForbidden, "forbidden", "token role does not match consultation")
		return nil, "", false
	}
	return c, role, true
}

// controller resolves the caller's open controller.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*consult.Controller, bool) {
	c, role, ok := s.party(w, r)
	if !ok {
		return nil, false
	}
	ctrl, err := s.sessions.Get(c.ID, role)
	if err != nil {
		writeAPIError(w, http.StatusConflict, "session_not_open", "session is not open")
		return nil, false
	}
	return ctrl, true
}

// instanceController resolves the caller's controller and checks it is still
// the one this page opened.
func (s *Server) instanceController(w http.ResponseWriter, r *http.Request) (ctrl *consult.Controller, stale, ok bool) {
	c, role, ok := s.party(w, r)
	if !ok {
		return nil, false, false
	}
	instance := strings.TrimSpace(r.URL.Query().Get("instance"))
	if instance == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "instance is required")
		return nil, false, false
	}
	ctrl, err := s.sessions.Lookup(c.ID, role, instance)
	switch {
	case errors.Is(err, consult.ErrStaleInstance):
		return nil, true, true
	case err != nil:
		writeAPIError(w, http.StatusConflict, "session_not_open", "session is not open")
		return nil, false, false
	}
	return ctrl, false, true
}

func writeStaleInstance(w http.ResponseWriter) {
	writeAPIError(w, http.StatusConflict, "stale_instance", "session was reopened by another page")
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	c, role, ok := s.party(w, r)
	if !ok {
		return
	}
	if c.Status != model.ConsultationAccepted {
		writeAPIError(w, http.StatusConflict, "consultation_not_active", "consultation is not accepted")
		return
	}
	ctrl, err := s.sessions.Open(r.Context(), c, role)
	if err != nil {
		if errors.Is(err, consult.ErrWidgetUnavailable) {
			s.log.Error().Err(err).Str("session_id", c.ID).Msg("video widget unavailable")
			writeAPIError(w, http.StatusServiceUnavailable, "widget_unavailable", "video widget unavailable")
			return
		}
		s.log.Error().Err(err).Str("session_id", c.ID).Msg("open session failed")
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to open session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  ctrl.Snapshot(),
		"instance": ctrl.InstanceID(),
		"room_url": c.RoomURL,
		"restored": ctrl.Meter().Restored(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": ctrl.Snapshot()})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req participantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Count == nil || *req.Count < 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "count must be a non-negative integer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": ctrl.ParticipantsChanged(*req.Count)})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctrl, stale, ok := s.instanceController(w, r)
	if !ok {
		return
	}
	if stale {
		writeStaleInstance(w)
		return
	}
	if err := ctrl.EndRequested(r.Context()); err != nil {
		s.log.Error().Err(err).Str("session_id", ctrl.SessionID()).Msg("end call failed")
		writeAPIError(w, http.StatusBadGateway, "widget_error", "failed to leave call")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "leaving"})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	ctrl, stale, ok := s.instanceController(w, r)
	if !ok {
		return
	}
	if stale {
		writeStaleInstance(w)
		return
	}
	if err := ctrl.Unload(r.Context()); err != nil {
		// The page is going away regardless.
		s.log.Warn().Err(err).Str("session_id", ctrl.SessionID()).Msg("forced leave on unload failed")
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "unloading"})
}

// handleLeft reports the end-of-call outcome. A page already superseded by a
// reopen only ever reloads.
func (s *Server) handleLeft(w http.ResponseWriter, r *http.Request) {
	ctrl, stale, ok := s.instanceController(w, r)
	if !ok {
		return
	}
	if stale {
		writeJSON(w, http.StatusOK, map[string]any{"outcome": model.Outcome{Kind: model.OutcomeReload}})
		return
	}
	out := ctrl.LeftMeeting(r.Context())
	if out.Kind == model.OutcomeReload {
		s.sessions.Close(ctrl.SessionID(), ctrl.Role(), ctrl.InstanceID())
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": out})
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	redirect, err := ctrl.SubmitRating(r.Context(), req.Score, req.Review)
	switch {
	case errors.Is(err, consult.ErrInvalidScore):
		writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, consult.ErrForbidden):
		writeAPIError(w, http.StatusForbidden, "forbidden", "only the client rates a consultation")
		return
	case err != nil:
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to submit rating")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"redirect_url": redirect})
}
