package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"translatemenu/internal/httpx"
	"translatemenu/internal/preferences"
	"translatemenu/internal/store"
)

const maxPreferencesBody = 64 << 10

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Preferences.GetPreferences(r.Context(), userID(r))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "load preferences failed", "user_id", userID(r), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error loading preferences")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"preferences": p})
}

func (s *Server) handlePreferencesSet(w http.ResponseWriter, r *http.Request) {
	body, err := httpx.ReadBody(r, maxPreferencesBody)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid preferences data")
		return
	}
	p, err := preferences.Decode(body)
	if err != nil {
		s.logger.InfoContext(r.Context(), "preferences rejected", "user_id", userID(r), "error", err)
		httpx.WriteError(w, http.StatusBadRequest, "Invalid preferences data")
		return
	}
	if err := s.deps.Preferences.SavePreferences(r.Context(), userID(r), p); err != nil {
		s.logger.ErrorContext(r.Context(), "save preferences failed", "user_id", userID(r), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error saving preferences")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"preferences": p})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Users.GetUser(r.Context(), userID(r))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "User not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "load user failed", "user_id", userID(r), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error loading user")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) handleGenerationGet(w http.ResponseWriter, r *http.Request) {
	g, ok := s.ownedGeneration(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, g)
}

// ownedGeneration answers 404 for generations of other users.
func (s *Server) ownedGeneration(w http.ResponseWriter, r *http.Request) (*store.Generation, bool) {
	if s.deps.Generations == nil {
		httpx.WriteError(w, http.StatusNotFound, "Generation not found")
		return nil, false
	}
	g, err := s.deps.Generations.GetGeneration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "Generation not found")
			return nil, false
		}
		s.logger.ErrorContext(r.Context(), "load generation failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error loading generation")
		return nil, false
	}
	if g.UserID != userID(r) {
		httpx.WriteError(w, http.StatusNotFound, "Generation not found")
		return nil, false
	}
	return g, true
}
