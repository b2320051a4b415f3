package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"codearena"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres    Postgres
	Redis       Redis
	Security    Security
	Matchmaking Matchmaking
	Execution   Execution
	RateLimit   RateLimit
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// Redis holds ephemeral store configuration (queue, match state, limiter).
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Security stores secrets for token verification.
type Security struct {
	JWTSecret string `env:"JWT_SECRET,notEmpty"`
}

// Matchmaking groups pairing and reservation defaults.
type Matchmaking struct {
	PairingInterval time.Duration `env:"PAIRING_INTERVAL" envDefault:"1s"`
	QueueScanLimit  int           `env:"QUEUE_SCAN_LIMIT" envDefault:"20"`
	DefaultRating   int           `env:"DEFAULT_RATING" envDefault:"1200"`
	ReservationTTL  time.Duration `env:"RESERVATION_TTL" envDefault:"30m"`
	MatchStateTTL   time.Duration `env:"MATCH_STATE_TTL" envDefault:"2h"`
	StatsCacheTTL   time.Duration `env:"STATS_CACHE_TTL" envDefault:"5m"`
}

// Execution configures the external match-execution (game room) service.
type Execution struct {
	BaseURL      string        `env:"EXECUTION_BASE_URL,notEmpty"`
	HTTPTimeout  time.Duration `env:"EXECUTION_HTTP_TIMEOUT" envDefault:"30s"`
	EventChannel string        `env:"EXECUTION_EVENT_CHANNEL" envDefault:"arena:events"`
}

// RateLimit holds per-category quota settings.
type RateLimit struct {
	ConsumeTimeout time.Duration `env:"RATELIMIT_CONSUME_TIMEOUT" envDefault:"5s"`

	AuthPoints int           `env:"RATELIMIT_AUTH_POINTS" envDefault:"5"`
	AuthWindow time.Duration `env:"RATELIMIT_AUTH_WINDOW" envDefault:"1m"`
	AuthBlock  time.Duration `env:"RATELIMIT_AUTH_BLOCK" envDefault:"15m"`

	GeneralPoints int           `env:"RATELIMIT_GENERAL_POINTS" envDefault:"100"`
	GeneralWindow time.Duration `env:"RATELIMIT_GENERAL_WINDOW" envDefault:"1m"`
	GeneralBlock  time.Duration `env:"RATELIMIT_GENERAL_BLOCK" envDefault:"1m"`

	QueuePoints int           `env:"RATELIMIT_QUEUE_POINTS" envDefault:"30"`
	QueueWindow time.Duration `env:"RATELIMIT_QUEUE_WINDOW" envDefault:"1m"`
	QueueBlock  time.Duration `env:"RATELIMIT_QUEUE_BLOCK" envDefault:"2m"`

	AdminPoints int           `env:"RATELIMIT_ADMIN_POINTS" envDefault:"10"`
	AdminWindow time.Duration `env:"RATELIMIT_ADMIN_WINDOW" envDefault:"1m"`
	AdminBlock  time.Duration `env:"RATELIMIT_ADMIN_BLOCK" envDefault:"5m"`

	UploadPoints int           `env:"RATELIMIT_UPLOAD_POINTS" envDefault:"20"`
	UploadWindow time.Duration `env:"RATELIMIT_UPLOAD_WINDOW" envDefault:"1h"`
	UploadBlock  time.Duration `env:"RATELIMIT_UPLOAD_BLOCK" envDefault:"1h"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
