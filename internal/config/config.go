// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, rate limiting, email transport, delivery workers, and
// observability.
//
// Values are layered with koanf: an optional YAML file named by CONFIG_PATH
// first, then the process environment on top. Keys are the environment
// variable names; in the YAML file they are written in lower case
// (e.g. `db_driver: postgres`).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnv names the optional YAML config file.
const ConfigPathEnv = "CONFIG_PATH"

// Email transports.
const (
	TransportSMTP = "smtp"
	TransportAPI  = "api"
	TransportLog  = "log"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DBConfig selects and locates the database.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH: SQLite file
	URL    string // DATABASE_URL: Postgres DSN
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string // SMTP_HOST
	Port     int    // SMTP_PORT
	Username string // SMTP_USERNAME
	Password string // SMTP_PASSWORD
}

// EmailAPIConfig holds the HTTP email API settings.
type EmailAPIConfig struct {
	BaseURL string // EMAIL_API_BASE_URL
	Token   string // EMAIL_API_TOKEN
}

// EmailConfig configures outgoing mail.
type EmailConfig struct {
	Transport       string        // EMAIL_TRANSPORT: smtp|api|log
	Sender          string        // EMAIL_SENDER
	SenderName      string        // EMAIL_SENDER_NAME
	Timeout         time.Duration // EMAIL_TIMEOUT
	SendRPS         float64       // EMAIL_SEND_RPS, 0 = unlimited
	SendBurst       int           // EMAIL_SEND_BURST
	BreakerFailures uint32        // EMAIL_BREAKER_FAILURES
	BreakerTimeout  time.Duration // EMAIL_BREAKER_TIMEOUT
	SMTP            SMTPConfig
	API             EmailAPIConfig
}

// DeliveryConfig configures the delivery workers.
type DeliveryConfig struct {
	Workers     int           // DELIVERY_WORKERS
	MaxRetries  int           // DELIVERY_MAX_RETRIES
	RetryDelay  time.Duration // DELIVERY_RETRY_DELAY
	IdleMin     time.Duration // DELIVERY_IDLE_MIN
	IdleMax     time.Duration // DELIVERY_IDLE_MAX
	TaskTimeout time.Duration // DELIVERY_TASK_TIMEOUT
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain on SIGTERM
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	BaseURL string // public URL used in confirmation links
	DB      DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyRetryAfter time.Duration // Retry-After sent for in-flight keys

	Email    EmailConfig
	Delivery DeliveryConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the YAML file named by CONFIG_PATH (if any) and the
// environment, applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	src, err := newSource(os.Getenv(ConfigPathEnv))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              src.str("PORT", "8080"),
		ReadTimeout:       src.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.dur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   src.dur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    src.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(src.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.str("LOG_LEVEL", "info")),
		LogPretty:      src.bool("LOG_PRETTY", false),
		SwaggerEnabled: src.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.str("API_BASE_PATH", "/api/v1")),

		// App
		BaseURL: strings.TrimRight(src.str("APP_BASE_URL", "http://localhost:8080"), "/"),
		DB: DBConfig{
			Driver: strings.ToLower(src.str("DB_DRIVER", "sqlite")),
			Path:   src.str("DB_PATH", "app.db"),
			URL:    src.str("DATABASE_URL", ""),
		},

		// Rate limiting
		RateRPS:   src.float("RATE_RPS", 5.0),
		RateBurst: src.int("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: src.bool("ENABLE_HSTS", false),
			HSTSMaxAge: src.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyRetryAfter: src.dur("IDEMPOTENCY_RETRY_AFTER", time.Second),

		Email: EmailConfig{
			Transport:       strings.ToLower(src.str("EMAIL_TRANSPORT", TransportLog)),
			Sender:          src.str("EMAIL_SENDER", "newsletter@example.com"),
			SenderName:      src.str("EMAIL_SENDER_NAME", ""),
			Timeout:         src.dur("EMAIL_TIMEOUT", 10*time.Second),
			SendRPS:         src.float("EMAIL_SEND_RPS", 0),
			SendBurst:       src.int("EMAIL_SEND_BURST", 1),
			BreakerFailures: uint32(max(src.int("EMAIL_BREAKER_FAILURES", 5), 0)),
			BreakerTimeout:  src.dur("EMAIL_BREAKER_TIMEOUT", 30*time.Second),
			SMTP: SMTPConfig{
				Host:     src.str("SMTP_HOST", "localhost"),
				Port:     src.int("SMTP_PORT", 587),
				Username: src.str("SMTP_USERNAME", ""),
				Password: src.str("SMTP_PASSWORD", ""),
			},
			API: EmailAPIConfig{
				BaseURL: src.str("EMAIL_API_BASE_URL", ""),
				Token:   src.str("EMAIL_API_TOKEN", ""),
			},
		},

		Delivery: DeliveryConfig{
			Workers:     src.int("DELIVERY_WORKERS", 1),
			MaxRetries:  src.int("DELIVERY_MAX_RETRIES", 5),
			RetryDelay:  src.dur("DELIVERY_RETRY_DELAY", 30*time.Second),
			IdleMin:     src.dur("DELIVERY_IDLE_MIN", 200*time.Millisecond),
			IdleMax:     src.dur("DELIVERY_IDLE_MAX", 10*time.Second),
			TaskTimeout: src.dur("DELIVERY_TASK_TIMEOUT", 30*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.bool("OTEL_ENABLED", false),
			Endpoint:    src.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.str("OTEL_SERVICE_NAME", "go-newsletter-backend"),
			SampleRatio: src.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("APP_BASE_URL must be an absolute URL")
	}

	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyRetryAfter <= 0 {
		return errors.New("IDEMPOTENCY_RETRY_AFTER must be > 0")
	}

	switch cfg.Email.Transport {
	case TransportLog:
	case TransportSMTP:
		if cfg.Email.SMTP.Host == "" || cfg.Email.SMTP.Port <= 0 {
			return errors.New("SMTP_HOST and SMTP_PORT are required when EMAIL_TRANSPORT=smtp")
		}
	case TransportAPI:
		if cfg.Email.API.BaseURL == "" || cfg.Email.API.Token == "" {
			return errors.New("EMAIL_API_BASE_URL and EMAIL_API_TOKEN are required when EMAIL_TRANSPORT=api")
		}
	default:
		return errors.New("EMAIL_TRANSPORT must be one of: smtp, api, log")
	}
	if !strings.Contains(cfg.Email.Sender, "@") {
		return errors.New("EMAIL_SENDER must be an email address")
	}
	if cfg.Email.Timeout <= 0 || cfg.Email.BreakerTimeout <= 0 {
		return errors.New("EMAIL_TIMEOUT and EMAIL_BREAKER_TIMEOUT must be > 0")
	}
	if cfg.Email.SendRPS < 0 || cfg.Email.SendBurst < 1 {
		return errors.New("EMAIL_SEND_RPS must be >= 0 and EMAIL_SEND_BURST >= 1")
	}

	d := cfg.Delivery
	if d.Workers < 0 {
		return errors.New("DELIVERY_WORKERS must be >= 0")
	}
	if d.MaxRetries < 0 {
		return errors.New("DELIVERY_MAX_RETRIES must be >= 0")
	}
	if d.RetryDelay <= 0 || d.IdleMin <= 0 || d.TaskTimeout <= 0 {
		return errors.New("DELIVERY_RETRY_DELAY, DELIVERY_IDLE_MIN and DELIVERY_TASK_TIMEOUT must be > 0")
	}
	if d.IdleMax < d.IdleMin {
		return errors.New("DELIVERY_IDLE_MAX must be >= DELIVERY_IDLE_MIN")
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// ---- value source ----

// source resolves keys against the merged koanf tree. Keys are stored in
// lower case; lookups accept the environment spelling.
type source struct {
	k *koanf.Koanf
}

func newSource(path string) (*source, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	return &source{k: k}, nil
}

func (s *source) raw(key string) (string, bool) {
	key = strings.ToLower(key)
	if !s.k.Exists(key) {
		return "", false
	}
	v := s.k.String(key)
	return v, v != ""
}

func (s *source) str(key, def string) string {
	if v, ok := s.raw(key); ok {
		return v
	}
	return def
}

func (s *source) float(key string, def float64) float64 {
	if v, ok := s.raw(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s *source) int(key string, def int) int {
	if v, ok := s.raw(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s *source) bool(key string, def bool) bool {
	if v, ok := s.raw(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s *source) dur(key string, def time.Duration) time.Duration {
	if v, ok := s.raw(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
