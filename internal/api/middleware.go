package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"translatemenu/internal/auth"
	"translatemenu/internal/httpx"
)

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			// The wrapper keeps Hijack so websocket upgrades pass through.
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// requireUser accepts a bearer token or the identity provider's session
// cookie and puts the verified identity on the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(s.sessionCookieName()); err == nil {
				token = strings.TrimSpace(c.Value)
			}
		}
		if token == "" || s.deps.Auth == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		id, err := s.deps.Auth.Verify(r.Context(), token)
		if err != nil {
			s.logger.InfoContext(r.Context(), "token rejected", "path", r.URL.Path, "error", err)
			httpx.WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) sessionCookieName() string {
	if name := strings.TrimSpace(s.cfg.Auth.SessionCookieName); name != "" {
		return name
	}
	return "__session"
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// userID is only called behind requireUser.
func userID(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.Subject
}
