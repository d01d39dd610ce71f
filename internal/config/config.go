package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quizforge"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`
	StoreDriver             string        `env:"STORE_DRIVER" envDefault:"postgres"`

	Postgres  Postgres
	Redis     Redis
	Security  Security
	Engine    Engine
	Generator Generator
	Scoring   Scoring
	CORS      CORS
	Events    Events
}

// Postgres captures connection info for the SQL database. Only required
// when StoreDriver is postgres.
type Postgres struct {
	Host     string `env:"PG_HOST" envDefault:"localhost"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER" envDefault:""`
	Password string `env:"PG_PASSWORD" envDefault:""`
	Database string `env:"PG_DATABASE" envDefault:""`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
	MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10"`
}

// DSN renders a keyword/value connection string understood by pgx.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

func (p Postgres) validate() error {
	if p.User == "" {
		return errors.New("PG_USER is required for the postgres store")
	}
	if p.Database == "" {
		return errors.New("PG_DATABASE is required for the postgres store")
	}
	return nil
}

// Redis holds cache, lock and pub/sub configuration. An empty Addr selects
// the in-process implementations.
type Redis struct {
	Addr     string `env:"REDIS_ADDR" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Security stores secrets for token validation.
type Security struct {
	JWTSecret string `env:"JWT_SECRET,notEmpty"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"quizforge"`
}

// Engine groups session defaults.
type Engine struct {
	MaxQuestionsLimit   int           `env:"ENGINE_MAX_QUESTIONS_LIMIT" envDefault:"50"`
	DefaultMaxQuestions int           `env:"ENGINE_DEFAULT_MAX_QUESTIONS" envDefault:"10"`
	ReviewStreak        int           `env:"ENGINE_REVIEW_STREAK" envDefault:"4"`
	LockTTL             time.Duration `env:"ENGINE_LOCK_TTL" envDefault:"30s"`
	LockWait            time.Duration `env:"ENGINE_LOCK_WAIT" envDefault:"5s"`
	MarkerTTL           time.Duration `env:"ENGINE_MARKER_TTL" envDefault:"24h"`
}

// Generator configures the remote question generator and its wrapper.
type Generator struct {
	URL          string        `env:"AI_GENERATOR_URL" envDefault:""`
	Key          string        `env:"AI_GENERATOR_API_KEY" envDefault:""`
	HTTPTimeout  time.Duration `env:"AI_HTTP_TIMEOUT" envDefault:"6s"`
	MaxAttempts  int           `env:"GENERATOR_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase  time.Duration `env:"GENERATOR_BACKOFF_BASE" envDefault:"200ms"`
	CacheTTL     time.Duration `env:"GENERATOR_CACHE_TTL" envDefault:"2m"`
	CacheSize    int           `env:"GENERATOR_CACHE_SIZE" envDefault:"512"`
	AllowedTypes []string      `env:"GENERATOR_ALLOWED_TYPES" envSeparator:"," envDefault:"multiple_choice,true_false,identification,enumeration"`
}

// Scoring holds the time-weighted points curve.
type Scoring struct {
	FullCreditMS int `env:"SCORING_FULL_MS" envDefault:"3000"`
	ZeroBonusMS  int `env:"SCORING_MIN_MS" envDefault:"30000"`
	MinPoints    int `env:"SCORING_MIN_POINTS" envDefault:"20"`
	MaxPoints    int `env:"SCORING_MAX_POINTS" envDefault:"100"`
}

// CORS holds Cross-Origin Resource Sharing configuration.
type CORS struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,PATCH,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	MaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"`
}

// Events configures session event fan-out.
type Events struct {
	Channel string `env:"EVENTS_CHANNEL" envDefault:"quiz:session-events"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadPostgres parses only the Postgres group, for tools that need nothing
// else.
func LoadPostgres() (Postgres, error) {
	var pg Postgres
	if err := env.ParseWithOptions(&pg, env.Options{RequiredIfNoDef: true}); err != nil {
		return Postgres{}, fmt.Errorf("parse postgres config: %w", err)
	}
	if err := pg.validate(); err != nil {
		return Postgres{}, err
	}
	return pg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *App) Validate() error {
	switch strings.ToLower(c.StoreDriver) {
	case DriverPostgres:
		if err := c.Postgres.validate(); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Engine.DefaultMaxQuestions < 1 || c.Engine.DefaultMaxQuestions > c.Engine.MaxQuestionsLimit {
		return fmt.Errorf("ENGINE_DEFAULT_MAX_QUESTIONS must be within 1..%d", c.Engine.MaxQuestionsLimit)
	}
	if c.Engine.ReviewStreak < 1 {
		return errors.New("ENGINE_REVIEW_STREAK must be positive")
	}
	if c.Generator.MaxAttempts < 1 {
		return errors.New("GENERATOR_MAX_ATTEMPTS must be positive")
	}
	if len(c.Generator.AllowedTypes) == 0 {
		return errors.New("GENERATOR_ALLOWED_TYPES must name at least one type")
	}
	return nil
}
