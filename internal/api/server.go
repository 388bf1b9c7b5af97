package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"translatemenu/internal/auth"
	"translatemenu/internal/blob"
	"translatemenu/internal/config"
	"translatemenu/internal/correlation"
	"translatemenu/internal/httpx"
	"translatemenu/internal/imagegen"
	"translatemenu/internal/lib/menuimage"
	"translatemenu/internal/menu"
	"translatemenu/internal/payments"
	"translatemenu/internal/preferences"
	"translatemenu/internal/store"
)

type MenuAnalyzer interface {
	Analyze(ctx context.Context, userID string, uploads []menuimage.Upload) (menu.Result, error)
}

type CallbackReceiver interface {
	Receive(ctx context.Context, id correlation.ID, payload []byte) (imagegen.Outcome, error)
}

// SignatureVerifier checks Standard Webhooks headers on a raw payload.
type SignatureVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

type PreferencesStore interface {
	GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error)
	SavePreferences(ctx context.Context, userID string, p preferences.Preferences) error
}

type UserStore interface {
	GetUser(ctx context.Context, externalID string) (*store.User, error)
}

type GenerationStore interface {
	GetGeneration(ctx context.Context, id string) (*store.Generation, error)
}

type StripeWebhook interface {
	Handle(ctx context.Context, payload []byte, signature string) (payments.Result, error)
}

type IdentityWebhook interface {
	Handle(ctx context.Context, payload []byte, headers http.Header) (bool, error)
}

// Deps are the collaborators behind the HTTP surface. Stripe, Identity and
// CallbackSignatures are optional; their routes are only mounted when set.
type Deps struct {
	Logger             *slog.Logger
	Auth               auth.Verifier
	Analyzer           MenuAnalyzer
	Images             blob.Store
	Callbacks          CallbackReceiver
	CallbackSignatures SignatureVerifier
	Preferences        PreferencesStore
	Users              UserStore
	Generations        GenerationStore
	Stripe             StripeWebhook
	Identity           IdentityWebhook
	Hub                *GenerationHub
}

type Server struct {
	cfg    config.Config
	deps   Deps
	hub    *GenerationHub
	logger *slog.Logger
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewGenerationHub(logger)
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		hub:    hub,
		logger: logger,
	}
}

func (s *Server) Hub() *GenerationHub { return s.hub }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	// CORS / preflight for the browser client.
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	// Public: the renderer calls back here and pollers fetch by correlation ID.
	r.Get("/image/{id}", s.handleImageGet)
	r.Post("/image-callback/{id}", s.handleImageCallback)

	if s.deps.Identity != nil {
		r.Post("/webhooks/identity", s.handleIdentityWebhook)
	}
	if s.deps.Stripe != nil {
		r.Post("/webhooks/stripe", s.handleStripeWebhook)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.With(middleware.Timeout(s.cfg.AnalyzeTimeout)).Post("/analyze", s.handleAnalyze)

		r.Get("/preferences", s.handlePreferencesGet)
		r.Post("/preferences", s.handlePreferencesSet)
		r.Get("/me", s.handleMe)

		r.Get("/generations/{id}", s.handleGenerationGet)
		r.Get("/generations/{id}/events", s.handleGenerationEvents)
	})

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			allowed := "*"
			if s.cfg.CORSAllowOrigins != "" {
				allowed = s.cfg.CORSAllowOrigins
			}
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}
