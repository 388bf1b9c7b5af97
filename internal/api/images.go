package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"translatemenu/internal/blob"
	"translatemenu/internal/correlation"
	"translatemenu/internal/httpx"
	"translatemenu/internal/imagegen"
	"translatemenu/internal/lib/menuimage"
	"translatemenu/internal/menu"
)

// Content at a correlation ID never changes once written.
const immutableCache = "public, max-age=31536000, immutable"

type analyzeResponse struct {
	menu.Menu
	GenerationID string `json:"generationId,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "No images provided")
		return
	}
	uploads := make([]menuimage.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "Invalid upload")
			return
		}
		uploads = append(uploads, menuimage.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	res, err := s.deps.Analyzer.Analyze(r.Context(), userID(r), uploads)
	if err != nil {
		if errors.Is(err, menu.ErrNoImages) || errors.Is(err, menuimage.ErrInvalidImage) {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "menu analysis failed", "user_id", userID(r), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Failed to process menu")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, analyzeResponse{Menu: res.Menu, GenerationID: res.GenerationID})
}

func (s *Server) handleImageGet(w http.ResponseWriter, r *http.Request) {
	id, ok := correlationParam(w, r)
	if !ok {
		return
	}
	obj, err := s.deps.Images.Get(r.Context(), id.Path())
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "Image not found")
			return
		}
		s.logger.ErrorContext(r.Context(), "image fetch failed", "image", id.String(), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error fetching image")
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", immutableCache)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (s *Server) handleImageCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := correlationParam(w, r)
	if !ok {
		return
	}
	limit := s.cfg.Callback.MaxImageBytes
	if limit <= 0 {
		limit = 16 << 20
	}
	// data: URIs inflate the payload by a third.
	payload, err := httpx.ReadBody(r, limit*2)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid callback body")
		return
	}
	if s.deps.CallbackSignatures != nil {
		if err := s.deps.CallbackSignatures.Verify(payload, r.Header); err != nil {
			s.logger.WarnContext(r.Context(), "image callback signature rejected", "image", id.String(), "error", err)
			httpx.WriteError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	outcome, err := s.deps.Callbacks.Receive(r.Context(), id, payload)
	if err != nil {
		switch {
		case errors.Is(err, imagegen.ErrMalformedPayload):
			httpx.WriteError(w, http.StatusBadRequest, "Malformed callback payload")
			return
		case errors.Is(err, imagegen.ErrNotImage):
			s.logger.WarnContext(r.Context(), "image callback output rejected", "image", id.String(), "error", err)
			httpx.WriteError(w, http.StatusBadRequest, "Callback output is not an image")
			return
		}
		s.logger.ErrorContext(r.Context(), "image callback failed", "image", id.String(), "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "Error storing image")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"outcome": outcome,
	})
}

func correlationParam(w http.ResponseWriter, r *http.Request) (correlation.ID, bool) {
	raw := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	id, err := correlation.Parse(raw)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "Malformed image id")
		return correlation.ID{}, false
	}
	return id, true
}
