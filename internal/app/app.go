package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/adaptive"
	"github.com/gokatarajesh/quizforge/internal/auth/jwt"
	"github.com/gokatarajesh/quizforge/internal/cache"
	"github.com/gokatarajesh/quizforge/internal/config"
	"github.com/gokatarajesh/quizforge/internal/db/memstore"
	"github.com/gokatarajesh/quizforge/internal/db/repository"
	"github.com/gokatarajesh/quizforge/internal/events"
	"github.com/gokatarajesh/quizforge/internal/logging"
	"github.com/gokatarajesh/quizforge/internal/metrics"
	"github.com/gokatarajesh/quizforge/internal/question"
	"github.com/gokatarajesh/quizforge/internal/question/ai"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/scoring"
	"github.com/gokatarajesh/quizforge/internal/server"
	"github.com/gokatarajesh/quizforge/internal/session"
	ws "github.com/gokatarajesh/quizforge/pkg/http/ws"
)

// store is what both the issuer and the session engine persist through.
type store interface {
	session.Store
	question.Store
}

// Application aggregates shared infrastructure (DB, cache, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	Engine *session.Engine

	broadcaster *events.Broadcaster
	bgCancels   []context.CancelFunc
}

// New bootstraps logger, storage, Redis-backed helpers and the HTTP server.
// Without REDIS_ADDR every Redis concern falls back to its in-process form.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	logger.Info().Str("store", cfg.StoreDriver).Bool("redis", cfg.Redis.Enabled()).Msg("starting application bootstrap")

	a := &Application{cfg: cfg, logger: logger, bgCancels: make([]context.CancelFunc, 0, 1)}
	health := map[string]server.HealthCheck{}

	var st store
	switch strings.ToLower(cfg.StoreDriver) {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		st = memstore.New()
	default:
		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("parse postgres config: %w", err)
		}
		if cfg.Postgres.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool
		st = repository.NewStore(pool)
		health["postgres"] = pool.Ping
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		health["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	allowed, err := parseTypes(cfg.Generator.AllowedTypes)
	if err != nil {
		return nil, err
	}

	var generator question.Generator
	if cfg.Generator.URL != "" {
		var resultCache cache.Cache
		if a.redis != nil {
			resultCache = cache.NewRedis(a.redis, "quiz:cache")
		} else {
			resultCache = cache.NewMemory(cache.MemoryOptions{Size: cfg.Generator.CacheSize, MaxTTL: cfg.Generator.CacheTTL})
		}
		generator = question.NewDedupGenerator(
			ai.NewGenerator(ai.Config{
				GeneratorURL: cfg.Generator.URL,
				GeneratorKey: cfg.Generator.Key,
				Timeout:      cfg.Generator.HTTPTimeout,
			}, logger),
			question.DedupOptions{
				Cache:          resultCache,
				CacheTTL:       cfg.Generator.CacheTTL,
				MaxAttempts:    cfg.Generator.MaxAttempts,
				BackoffBase:    cfg.Generator.BackoffBase,
				AttemptTimeout: cfg.Generator.HTTPTimeout,
				Metrics:        m,
			},
			logger,
		)
	} else {
		logger.Warn().Msg("AI_GENERATOR_URL not set; questions are synthesized locally")
	}

	issuer := question.NewIssuer(st, generator, question.IssuerOptions{AllowedTypes: allowed, Metrics: m}, logger)

	hub := ws.NewHub(logger)
	var (
		locker    session.Locker
		markers   adaptive.MarkerStore
		publisher events.Publisher
	)
	if a.redis != nil {
		locker = session.NewRedisLocker(a.redis, cfg.Engine.LockTTL)
		markers = adaptive.NewRedisMarkers(a.redis, cfg.Engine.MarkerTTL)
		publisher = events.NewRedisPublisher(a.redis, cfg.Events.Channel)
		a.broadcaster = events.NewBroadcaster(a.redis, hub, cfg.Events.Channel, logger)
	} else {
		locker = session.NewLocalLocker()
		markers = adaptive.NewMemoryMarkers()
		publisher = events.NewHubPublisher(hub)
	}

	scoringCfg := scoring.ScoringConfig{
		FullCredit: time.Duration(cfg.Scoring.FullCreditMS) * time.Millisecond,
		ZeroBonus:  time.Duration(cfg.Scoring.ZeroBonusMS) * time.Millisecond,
		MinPoints:  cfg.Scoring.MinPoints,
		MaxPoints:  cfg.Scoring.MaxPoints,
	}
	if err := scoringCfg.Validate(); err != nil {
		return nil, err
	}

	a.Engine = session.NewEngine(st, issuer, session.Options{
		MaxQuestionsLimit:   cfg.Engine.MaxQuestionsLimit,
		DefaultMaxQuestions: cfg.Engine.DefaultMaxQuestions,
		LockWait:            cfg.Engine.LockWait,
		Locker:              locker,
		Review:              adaptive.NewReviewTrigger(cfg.Engine.ReviewStreak, markers),
		Publisher:           publisher,
		Scoring:             scoring.NewEngine(scoringCfg),
		Metrics:             m,
	}, logger)

	tokens := jwt.NewManager(jwt.TokenConfig{
		Secret: []byte(cfg.Security.JWTSecret),
		Issuer: cfg.Security.JWTIssuer,
	})

	router := server.NewRouter(server.RouterOptions{
		Engine:  a.Engine,
		Auth:    tokens,
		Hub:     hub,
		CORS:    cfg.CORS,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Health:  health,
	}, logger)
	a.http = server.NewHTTPServer(cfg, router)

	return a, nil
}

func parseTypes(names []string) ([]quiz.QuestionType, error) {
	types := make([]quiz.QuestionType, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		t, err := quiz.ParseQuestionType(name)
		if err != nil {
			return nil, fmt.Errorf("GENERATOR_ALLOWED_TYPES: %w", err)
		}
		types = append(types, t)
	}
	if len(types) == 0 {
		return nil, errors.New("GENERATOR_ALLOWED_TYPES must name at least one type")
	}
	return types, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.http.Handler
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.startBackgroundWorkers(ctx)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	a.Close()
	return runErr
}

// Close stops the HTTP server, background workers and connections.
func (a *Application) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	for _, cancel := range a.bgCancels {
		cancel()
	}

	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("redis shutdown error")
		}
	}

	a.logger.Info().Msg("shutdown complete")
}

func (a *Application) startBackgroundWorkers(ctx context.Context) {
	if a.broadcaster != nil {
		bgCtx, cancel := context.WithCancel(ctx)
		a.bgCancels = append(a.bgCancels, cancel)
		go func() {
			if err := a.broadcaster.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn().Err(err).Msg("session event broadcaster stopped")
			}
		}()
	}
}
