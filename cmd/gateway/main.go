// The gateway binary serves the translation API: submissions, job polling,
// audio playback and cleanup.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/api"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/config"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/validate"
)

const (
	brokerRetries    = 5
	brokerRetryDelay = 5 * time.Second
)

func main() {
	_ = godotenv.Load()
	log.Configure(log.Config{Service: "musictranslator-gateway"})
	logger := log.WithComponent("main")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	for _, dir := range []string{cfg.AudioDir, cfg.LyricsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal().Err(err).Str("dir", dir).Msg("failed to create data directory")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := connectBroker(ctx, cfg, logger)
	if broker != nil {
		defer broker.Close()
	}

	server := api.New(cfg, broker, validate.NewFFprobe(cfg.FFprobeBin))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads stream entire songs; keep the write side generous.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Msg("gateway listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("gateway server failed")
	}
	logger.Info().Msg("gateway stopped")
}

// connectBroker retries the broker connection a few times; on a fresh
// deployment Redis may come up after the gateway. When every attempt fails
// the gateway still starts and answers 503 until it is restarted.
func connectBroker(ctx context.Context, cfg config.Config, logger zerolog.Logger) *queue.Broker {
	for attempt := 1; attempt <= brokerRetries; attempt++ {
		broker, err := queue.New(ctx, cfg.RedisAddr(), cfg.ResultTTL)
		if err == nil {
			return broker
		}
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("retries_left", brokerRetries-attempt).
			Msg("failed to connect to Redis, retrying")
		select {
		case <-time.After(brokerRetryDelay):
		case <-ctx.Done():
			return nil
		}
	}
	logger.Error().Msg("could not connect to Redis, starting degraded")
	return nil
}
