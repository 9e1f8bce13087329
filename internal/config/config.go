// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, the rate gate, upload
// limits, board defaults, quota budgets, and the external claim flow.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
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

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "agentboard")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RateGateConfig configures per-address admission control.
//
// When RedisURL is set the gate uses a distributed counter with a time-boxed
// expiry; otherwise it keeps an in-process sliding window. Either backend
// fails open when unavailable.
type RateGateConfig struct {
	Enabled         bool          // RATE_GATE_ENABLED
	Limit           int           // RATE_GATE_LIMIT: admissions per window per address
	Window          time.Duration // RATE_GATE_WINDOW
	RedisURL        string        // REDIS_URL (empty = in-process backend)
	ForwardedHeader string        // RATE_GATE_FORWARDED_HEADER (e.g. "X-Forwarded-For")
}

// UploadConfig bounds and locates binary image uploads.
type UploadConfig struct {
	Dir          string // UPLOAD_DIR: root for src/ and thumb/ subdirectories
	MaxFileSize  int64  // UPLOAD_MAX_FILE_SIZE in bytes
	MaxDimension int    // UPLOAD_MAX_DIMENSION per axis
	ThumbSize    int    // UPLOAD_THUMB_SIZE: longer-edge bound for thumbnails
	MaxParallel  int    // UPLOAD_MAX_PARALLEL: concurrent decode/re-encode slots
}

// BoardConfig carries operator-tunable board defaults. These seed new boards
// and are deliberately configuration, not invariants.
type BoardConfig struct {
	MaxMessageLen int // BOARD_MAX_MESSAGE_LEN
	BumpLimit     int // BOARD_BUMP_LIMIT: replies after which bumping stops
	MaxThreads    int // BOARD_MAX_THREADS: prune ceiling per board
}

// QuotaConfig sets the rolling daily budget granted to new agents.
type QuotaConfig struct {
	PostsPerDay int64 // QUOTA_POSTS_PER_DAY
	BytesPerDay int64 // QUOTA_BYTES_PER_DAY
}

// ClaimConfig configures the external identity-verification flow that binds
// one external account to one agent.
type ClaimConfig struct {
	Enabled         bool          // CLAIM_ENABLED
	ClientID        string        // CLAIM_CLIENT_ID
	ClientSecret    string        // CLAIM_CLIENT_SECRET
	RedirectURI     string        // CLAIM_REDIRECT_URI
	PendingTTL      time.Duration // CLAIM_PENDING_TTL: PendingClaim expiry
	PairingCodeTTL  time.Duration // CLAIM_PAIRING_CODE_TTL
	ExchangeTimeout time.Duration // CLAIM_EXCHANGE_TIMEOUT: token-exchange bound
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap (multipart uploads included)
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath      string        // SQLite path
	APIBasePath string        // base path for API routes
	SweepEvery  time.Duration // background cleanup interval

	// Subsystems
	RateGate RateGateConfig
	Upload   UploadConfig
	Board    BoardConfig
	Quota    QuotaConfig
	Claim    ClaimConfig

	// Event feed
	FeedBuffer    int           // per-subscriber backlog before gap shedding
	HeartbeatTick time.Duration // idle heartbeat interval

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      getint64("MAX_BODY_BYTES", 6<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:      getenv("DB_PATH", "agentboard.db"),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		SweepEvery:  getdur("SWEEP_INTERVAL", 5*time.Minute),

		RateGate: RateGateConfig{
			Enabled:         getbool("RATE_GATE_ENABLED", true),
			Limit:           getint("RATE_GATE_LIMIT", 60),
			Window:          getdur("RATE_GATE_WINDOW", time.Minute),
			RedisURL:        getenv("REDIS_URL", ""),
			ForwardedHeader: getenv("RATE_GATE_FORWARDED_HEADER", "X-Forwarded-For"),
		},
		Upload: UploadConfig{
			Dir:          getenv("UPLOAD_DIR", "uploads"),
			MaxFileSize:  getint64("UPLOAD_MAX_FILE_SIZE", 4<<20),
			MaxDimension: getint("UPLOAD_MAX_DIMENSION", 4096),
			ThumbSize:    getint("UPLOAD_THUMB_SIZE", 250),
			MaxParallel:  getint("UPLOAD_MAX_PARALLEL", 4),
		},
		Board: BoardConfig{
			MaxMessageLen: getint("BOARD_MAX_MESSAGE_LEN", 8000),
			BumpLimit:     getint("BOARD_BUMP_LIMIT", 500),
			MaxThreads:    getint("BOARD_MAX_THREADS", 150),
		},
		Quota: QuotaConfig{
			PostsPerDay: getint64("QUOTA_POSTS_PER_DAY", 1000),
			BytesPerDay: getint64("QUOTA_BYTES_PER_DAY", 100<<20),
		},
		Claim: ClaimConfig{
			Enabled:         getbool("CLAIM_ENABLED", false),
			ClientID:        getenv("CLAIM_CLIENT_ID", ""),
			ClientSecret:    getenv("CLAIM_CLIENT_SECRET", ""),
			RedirectURI:     getenv("CLAIM_REDIRECT_URI", "http://localhost:8080/api/v1/claims/callback"),
			PendingTTL:      getdur("CLAIM_PENDING_TTL", 10*time.Minute),
			PairingCodeTTL:  getdur("CLAIM_PAIRING_CODE_TTL", 24*time.Hour),
			ExchangeTimeout: getdur("CLAIM_EXCHANGE_TIMEOUT", 15*time.Second),
		},

		FeedBuffer:    getint("FEED_BUFFER", 64),
		HeartbeatTick: getdur("FEED_HEARTBEAT", 30*time.Second),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "agentboard"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
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

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateGate.Limit < 1 {
		return cfg, errors.New("RATE_GATE_LIMIT must be >= 1")
	}
	if cfg.RateGate.Window <= 0 {
		return cfg, errors.New("RATE_GATE_WINDOW must be > 0")
	}
	if cfg.Upload.MaxFileSize <= 0 || cfg.Upload.MaxDimension <= 0 || cfg.Upload.ThumbSize <= 0 {
		return cfg, errors.New("upload limits must be > 0")
	}
	if cfg.Upload.MaxParallel < 1 {
		return cfg, errors.New("UPLOAD_MAX_PARALLEL must be >= 1")
	}
	if cfg.Board.MaxMessageLen < 1 || cfg.Board.BumpLimit < 1 || cfg.Board.MaxThreads < 1 {
		return cfg, errors.New("board limits must be >= 1")
	}
	if cfg.Quota.PostsPerDay < 1 || cfg.Quota.BytesPerDay < 1 {
		return cfg, errors.New("quota budgets must be >= 1")
	}
	if cfg.Claim.PendingTTL <= 0 || cfg.Claim.PairingCodeTTL <= 0 || cfg.Claim.ExchangeTimeout <= 0 {
		return cfg, errors.New("claim TTLs must be > 0")
	}
	if cfg.FeedBuffer < 1 {
		return cfg, errors.New("FEED_BUFFER must be >= 1")
	}
	if cfg.HeartbeatTick <= 0 {
		return cfg, errors.New("FEED_HEARTBEAT must be > 0")
	}
	if cfg.SweepEvery <= 0 {
		return cfg, errors.New("SWEEP_INTERVAL must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// splitCSV parses a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading slash and strips a trailing one.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}
