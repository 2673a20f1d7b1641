package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	platformstrings "verigate/pkg/platform/strings"
)

// Config is the process configuration, read from VERIGATE_* variables.
type Config struct {
	Server    Server
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Providers Providers
	Reaper    Reaper
	Audit     Audit
	Telemetry Telemetry
}

// Server captures the ops HTTP listener.
type Server struct {
	Addr            string        `env:"VERIGATE_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"VERIGATE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"VERIGATE_LOG_LEVEL" envDefault:"info"`
	// OpsToken guards the operator endpoints. Empty leaves them unmounted.
	OpsToken string `env:"VERIGATE_OPS_TOKEN"`
}

// Database is the record store. An empty URL runs on in-memory stores.
type Database struct {
	URL             string        `env:"VERIGATE_DATABASE_URL"`
	MaxOpenConns    int           `env:"VERIGATE_DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"VERIGATE_DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"VERIGATE_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"VERIGATE_DATABASE_TX_TIMEOUT" envDefault:"5s"`
}

// Redis backs the score cache. An empty URL falls back to an in-process cache.
type Redis struct {
	URL           string        `env:"VERIGATE_REDIS_URL"`
	PoolSize      int           `env:"VERIGATE_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns  int           `env:"VERIGATE_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout   time.Duration `env:"VERIGATE_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout   time.Duration `env:"VERIGATE_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout  time.Duration `env:"VERIGATE_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	ScoreCacheTTL time.Duration `env:"VERIGATE_SCORE_CACHE_TTL" envDefault:"24h"`
}

// Kafka carries lifecycle and audit events. No brokers disables publishing.
type Kafka struct {
	Brokers        []string      `env:"VERIGATE_KAFKA_BROKERS" envSeparator:","`
	ClientID       string        `env:"VERIGATE_KAFKA_CLIENT_ID" envDefault:"verigate"`
	LifecycleTopic string        `env:"VERIGATE_KAFKA_LIFECYCLE_TOPIC" envDefault:"verification.lifecycle"`
	AuditTopic     string        `env:"VERIGATE_KAFKA_AUDIT_TOPIC" envDefault:"verification.audit"`
	Partitions     int32         `env:"VERIGATE_KAFKA_PARTITIONS" envDefault:"3"`
	Replication    int16         `env:"VERIGATE_KAFKA_REPLICATION" envDefault:"1"`
	Linger         time.Duration `env:"VERIGATE_KAFKA_LINGER" envDefault:"5ms"`
	OutboxInterval time.Duration `env:"VERIGATE_OUTBOX_INTERVAL" envDefault:"1s"`
}

// Providers configures the external score services. A kind with no URL is
// left unregistered and its Run* operation reports an internal error.
type Providers struct {
	OcrURL             string        `env:"VERIGATE_PROVIDER_OCR_URL"`
	CrossValidationURL string        `env:"VERIGATE_PROVIDER_CROSS_VALIDATION_URL"`
	FaceMatchURL       string        `env:"VERIGATE_PROVIDER_FACE_MATCH_URL"`
	LivenessURL        string        `env:"VERIGATE_PROVIDER_LIVENESS_URL"`
	APIKey             string        `env:"VERIGATE_PROVIDER_API_KEY"`
	Timeout            time.Duration `env:"VERIGATE_PROVIDER_TIMEOUT" envDefault:"10s"`
	Attempts           int           `env:"VERIGATE_PROVIDER_ATTEMPTS" envDefault:"3"`
	BreakerThreshold   int           `env:"VERIGATE_PROVIDER_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown    time.Duration `env:"VERIGATE_PROVIDER_BREAKER_COOLDOWN" envDefault:"30s"`
}

type Reaper struct {
	ExpireInterval  time.Duration `env:"VERIGATE_REAPER_EXPIRE_INTERVAL" envDefault:"5m"`
	CleanupInterval time.Duration `env:"VERIGATE_REAPER_CLEANUP_INTERVAL" envDefault:"24h"`
	RetentionDays   int           `env:"VERIGATE_SESSION_RETENTION_DAYS" envDefault:"30"`
}

// Audit tunes the best-effort tier for operational audit events.
type Audit struct {
	OpsSampleRate       float64       `env:"VERIGATE_AUDIT_OPS_SAMPLE_RATE" envDefault:"1"`
	OpsBreakerThreshold int           `env:"VERIGATE_AUDIT_OPS_BREAKER_THRESHOLD" envDefault:"5"`
	OpsBreakerCooldown  time.Duration `env:"VERIGATE_AUDIT_OPS_BREAKER_COOLDOWN" envDefault:"1m"`
}

type Telemetry struct {
	ServiceName  string `env:"VERIGATE_SERVICE_NAME" envDefault:"verigate"`
	OTLPEndpoint string `env:"VERIGATE_OTEL_ENDPOINT"`
}

// Load reads an optional .env file and then parses the environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = platformstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Reaper.RetentionDays <= 0 {
		return errors.New("VERIGATE_SESSION_RETENTION_DAYS must be positive")
	}
	if c.Reaper.ExpireInterval <= 0 || c.Reaper.CleanupInterval <= 0 {
		return errors.New("reaper intervals must be positive")
	}
	if c.Providers.Attempts < 1 {
		return errors.New("VERIGATE_PROVIDER_ATTEMPTS must be at least 1")
	}
	if c.Audit.OpsSampleRate < 0 || c.Audit.OpsSampleRate > 1 {
		return errors.New("VERIGATE_AUDIT_OPS_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}
