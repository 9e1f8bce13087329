package config

import (
	"reflect"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("MAX_BODY_BYTES", "1048576")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "board.db")
	t.Setenv("SWEEP_INTERVAL", "90s")

	// Rate gate (invalid numerics fall back to defaults)
	t.Setenv("RATE_GATE_ENABLED", "1")
	t.Setenv("RATE_GATE_LIMIT", "x") // -> default 60
	t.Setenv("RATE_GATE_WINDOW", "30s")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("RATE_GATE_FORWARDED_HEADER", "X-Real-IP")

	// Uploads
	t.Setenv("UPLOAD_DIR", "/var/lib/board/uploads")
	t.Setenv("UPLOAD_MAX_FILE_SIZE", "2097152")
	t.Setenv("UPLOAD_MAX_DIMENSION", "2048")
	t.Setenv("UPLOAD_THUMB_SIZE", "128")
	t.Setenv("UPLOAD_MAX_PARALLEL", "2")

	// Board / quota
	t.Setenv("BOARD_MAX_MESSAGE_LEN", "4000")
	t.Setenv("BOARD_BUMP_LIMIT", "300")
	t.Setenv("BOARD_MAX_THREADS", "100")
	t.Setenv("QUOTA_POSTS_PER_DAY", "200")
	t.Setenv("QUOTA_BYTES_PER_DAY", "10485760")

	// Claims
	t.Setenv("CLAIM_ENABLED", "true")
	t.Setenv("CLAIM_CLIENT_ID", "cid")
	t.Setenv("CLAIM_CLIENT_SECRET", "sec")
	t.Setenv("CLAIM_REDIRECT_URI", "https://board.example/claims/callback")
	t.Setenv("CLAIM_PENDING_TTL", "5m")
	t.Setenv("CLAIM_PAIRING_CODE_TTL", "12h")
	t.Setenv("CLAIM_EXCHANGE_TIMEOUT", "10s")

	// Feed
	t.Setenv("FEED_BUFFER", "32")
	t.Setenv("FEED_HEARTBEAT", "15s")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.MaxBodyBytes != 1048576 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / app
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}
	if cfg.DBPath != "board.db" || cfg.SweepEvery != 90*time.Second {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	// Rate gate (parse fallback to default limit)
	if !cfg.RateGate.Enabled || cfg.RateGate.Limit != 60 || cfg.RateGate.Window != 30*time.Second {
		t.Fatalf("rate gate unexpected: %+v", cfg.RateGate)
	}
	if cfg.RateGate.RedisURL != "redis://cache:6379/0" || cfg.RateGate.ForwardedHeader != "X-Real-IP" {
		t.Fatalf("rate gate backend unexpected: %+v", cfg.RateGate)
	}

	// Uploads
	if cfg.Upload.Dir != "/var/lib/board/uploads" ||
		cfg.Upload.MaxFileSize != 2097152 ||
		cfg.Upload.MaxDimension != 2048 ||
		cfg.Upload.ThumbSize != 128 ||
		cfg.Upload.MaxParallel != 2 {
		t.Fatalf("upload unexpected: %+v", cfg.Upload)
	}

	// Board / quota
	if cfg.Board.MaxMessageLen != 4000 || cfg.Board.BumpLimit != 300 || cfg.Board.MaxThreads != 100 {
		t.Fatalf("board unexpected: %+v", cfg.Board)
	}
	if cfg.Quota.PostsPerDay != 200 || cfg.Quota.BytesPerDay != 10485760 {
		t.Fatalf("quota unexpected: %+v", cfg.Quota)
	}

	// Claims
	if !cfg.Claim.Enabled || cfg.Claim.ClientID != "cid" || cfg.Claim.ClientSecret != "sec" {
		t.Fatalf("claim unexpected: %+v", cfg.Claim)
	}
	if cfg.Claim.PendingTTL != 5*time.Minute ||
		cfg.Claim.PairingCodeTTL != 12*time.Hour ||
		cfg.Claim.ExchangeTimeout != 10*time.Second {
		t.Fatalf("claim TTLs unexpected: %+v", cfg.Claim)
	}

	// Feed
	if cfg.FeedBuffer != 32 || cfg.HeartbeatTick != 15*time.Second {
		t.Fatalf("feed unexpected: buffer=%d heartbeat=%v", cfg.FeedBuffer, cfg.HeartbeatTick)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose"},
		{"empty PORT", "PORT", " "},
		{"non-positive READ_TIMEOUT", "READ_TIMEOUT", "-1s"},
		{"non-positive MAX_HEADER_BYTES", "MAX_HEADER_BYTES", "0"},
		{"non-positive MAX_BODY_BYTES", "MAX_BODY_BYTES", "-1"},
		{"empty DB_PATH", "DB_PATH", " "},
		{"zero RATE_GATE_LIMIT", "RATE_GATE_LIMIT", "0"},
		{"non-positive RATE_GATE_WINDOW", "RATE_GATE_WINDOW", "0s"},
		{"zero UPLOAD_MAX_FILE_SIZE", "UPLOAD_MAX_FILE_SIZE", "0"},
		{"zero UPLOAD_MAX_PARALLEL", "UPLOAD_MAX_PARALLEL", "0"},
		{"zero BOARD_BUMP_LIMIT", "BOARD_BUMP_LIMIT", "0"},
		{"zero QUOTA_POSTS_PER_DAY", "QUOTA_POSTS_PER_DAY", "0"},
		{"non-positive CLAIM_PENDING_TTL", "CLAIM_PENDING_TTL", "0s"},
		{"zero FEED_BUFFER", "FEED_BUFFER", "0"},
		{"non-positive FEED_HEARTBEAT", "FEED_HEARTBEAT", "0s"},
		{"non-positive SWEEP_INTERVAL", "SWEEP_INTERVAL", "0s"},
		{"out-of-range OTEL_TRACES_SAMPLER_ARG", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail when %s=%q", tc.key, tc.val)
			}
		})
	}
}

// --- helpers ---

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":          "/",
		"/":         "/",
		"api":       "/api",
		"/api/":     "/api",
		" /api/v1 ": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	if got := splitCSV(" a , , b "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("splitCSV = %#v", got)
	}
	if got := splitCSV("  "); got != nil {
		t.Fatalf("blank splitCSV = %#v", got)
	}
}
