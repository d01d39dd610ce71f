package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/auth"
	"github.com/gokatarajesh/quizforge/internal/config"
	"github.com/gokatarajesh/quizforge/internal/logging"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/session"
	"github.com/gokatarajesh/quizforge/pkg/http/ws"
)

// Engine is the session surface served over HTTP (implemented by
// *session.Engine).
type Engine interface {
	CreateSession(ctx context.Context, ownerID uuid.UUID, in session.CreateInput) (*session.Snapshot, error)
	GetSnapshot(ctx context.Context, token string, ownerID uuid.UUID) (*session.Snapshot, error)
	NextQuestion(ctx context.Context, token string, ownerID uuid.UUID) (*quiz.PublicQuestion, error)
	SubmitAnswer(ctx context.Context, token string, ownerID uuid.UUID, in session.SubmitInput) (*session.AnswerResult, error)
	SetPreferences(ctx context.Context, token string, ownerID uuid.UUID, prefs quiz.Preferences) (*session.Snapshot, error)
	Finish(ctx context.Context, token string, ownerID uuid.UUID) (*session.Summary, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterOptions carries the handlers' collaborators.
type RouterOptions struct {
	Engine  Engine
	Auth    auth.TokenValidator
	Hub     *ws.Hub
	CORS    config.CORS
	Metrics http.Handler
	Health  map[string]HealthCheck
	// RequestTimeout bounds every non-WebSocket request. Zero means 30s.
	RequestTimeout time.Duration
}

// NewRouter wires the API routes.
func NewRouter(opts RouterOptions, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORS.AllowedOrigins,
		AllowedMethods:   opts.CORS.AllowedMethods,
		AllowedHeaders:   opts.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: opts.CORS.AllowCredentials,
		MaxAge:           opts.CORS.MaxAge,
	}))

	r.Get("/healthz", healthHandler(opts.Health))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	sessions := &sessionHandlers{engine: opts.Engine}
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(opts.Auth, logger))

		pr.With(middleware.Timeout(timeout)).Route("/v1/sessions", func(sr chi.Router) {
			sr.Post("/", sessions.create)
			sr.Get("/{token}", sessions.get)
			sr.Post("/{token}/next", sessions.next)
			sr.Post("/{token}/answers", sessions.submit)
			sr.Patch("/{token}/preferences", sessions.preferences)
			sr.Post("/{token}/finish", sessions.finish)
		})

		if opts.Hub != nil {
			events := newEventsHandler(opts.Engine, opts.Hub, opts.CORS.AllowedOrigins, logger)
			pr.Get("/ws/sessions", events.serve)
		}
	})

	return r
}

// NewHTTPServer wraps the router in a server bound to the configured address.
func NewHTTPServer(cfg *config.App, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				reqLogger := logging.FromContext(r.Context(), zerolog.Nop())
				reqLogger.Error().Err(err).Str("dependency", name).Msg("dependency ping failed")
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		respondJSON(w, status, map[string]any{"status": overall, "dependencies": results})
	}
}

// requestLogger scopes a request logger into the context and logs one line
// per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.IntoContext(r.Context(), reqLogger)))

			evt := reqLogger.Info()
			if ww.Status() >= http.StatusInternalServerError {
				evt = reqLogger.Error()
			}
			evt.Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
