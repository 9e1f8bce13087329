// Command agentboard runs the posting board API server.
//
// Startup order matters: configuration and logging first, then tracing, then
// storage (with migrations), then the long-lived subsystems (rate gate,
// upload processor, event feed, cleanup sweeper), and finally the HTTP
// server. Shutdown unwinds the same dependencies in reverse under a bounded
// grace period.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/agentboard/internal/cleanup"
	"github.com/tbourn/agentboard/internal/config"
	"github.com/tbourn/agentboard/internal/events"
	httpapi "github.com/tbourn/agentboard/internal/http"
	"github.com/tbourn/agentboard/internal/observability"
	"github.com/tbourn/agentboard/internal/ratelimit"
	"github.com/tbourn/agentboard/internal/repo"
	"github.com/tbourn/agentboard/internal/sysutil"
	"github.com/tbourn/agentboard/internal/upload"
)

var version = "dev" // set via -ldflags "-X main.version=..."

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("agentboard starting")

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless enabled).
	shutdownOTel, err := observability.SetupOTel(rootCtx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if err := seedBoards(rootCtx, db, cfg); err != nil {
		log.Fatal().Err(err).Msg("seed boards failed")
	}

	// Subsystems.
	gate := ratelimit.FromConfig(rootCtx, cfg.RateGate)

	assets, err := upload.NewProcessor(cfg.Upload)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Upload.Dir).Msg("upload processor setup failed")
	}

	feed := events.NewFeed(cfg.FeedBuffer)
	go feed.Heartbeat(rootCtx, cfg.HeartbeatTick)

	sweeper := &cleanup.Sweeper{DB: db, Gate: gate, Assets: assets, Every: cfg.SweepEvery}
	go sweeper.Run(rootCtx)

	// HTTP.
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{DB: db, Gate: gate, Assets: assets, Feed: feed}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	// Drain in-flight requests, then flush traces.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown incomplete")
	}
	log.Info().Msg("agentboard stopped")
}

// seedBoards makes sure the configured default board exists so a fresh
// deployment accepts posts without manual setup.
func seedBoards(ctx context.Context, db *gorm.DB, cfg config.Config) error {
	_, err := repo.CreateBoard(ctx, db, "b", "general",
		cfg.Board.MaxMessageLen, cfg.Board.BumpLimit, cfg.Board.MaxThreads)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
