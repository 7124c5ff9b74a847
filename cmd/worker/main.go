// The worker binary drains the translation and cleanup queues and runs the
// analysis pipeline against the external services.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/config"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/services"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/worker"
)

const (
	brokerRetries    = 5
	brokerRetryDelay = 5 * time.Second
)

func main() {
	_ = godotenv.Load()
	log.Configure(log.Config{Service: "musictranslator-worker"})
	logger := log.WithComponent("main")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var broker *queue.Broker
	for attempt := 1; attempt <= brokerRetries; attempt++ {
		b, err := queue.New(ctx, cfg.RedisAddr(), cfg.ResultTTL)
		if err == nil {
			broker = b
			break
		}
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("retries_left", brokerRetries-attempt).
			Msg("worker failed to connect to Redis, retrying")
		if attempt == brokerRetries {
			logger.Error().Msg("worker could not connect to Redis after multiple retries, exiting")
			os.Exit(1)
		}
		select {
		case <-time.After(brokerRetryDelay):
		case <-ctx.Done():
			return
		}
	}
	defer broker.Close()

	deps := worker.Deps{
		Broker:    broker,
		Separator: services.NewSeparator(cfg.SeparatorURL, cfg.ServiceTimeout),
		Aligner:   services.NewAligner(cfg.AlignerURL, cfg.ServiceTimeout),
		F0:        services.NewF0(cfg.F0URL, cfg.ServiceTimeout),
	}
	if cfg.RMSURL != "" {
		deps.RMS = services.NewRMS(cfg.RMSURL, cfg.ServiceTimeout)
	}
	if cfg.DrumURL != "" {
		deps.Drums = services.NewDrums(cfg.DrumURL, cfg.ServiceTimeout)
	}

	// Metrics endpoint for scraping; the worker serves no other HTTP.
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	w := worker.New(deps)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker stopped")
}
