// Package api implements the gateway HTTP surface: translation submission,
// job polling, audio playback and client-triggered cleanup.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/config"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/validate"
)

// Server is the gateway HTTP server. It owns no pipeline logic; it persists
// uploads, enqueues jobs and reads their state back out of the broker.
type Server struct {
	cfg       config.Config
	broker    *queue.Broker
	validator validate.Validator
	logger    zerolog.Logger

	accessCodes map[string]bool
}

// New builds a gateway server around the broker and file validator.
func New(cfg config.Config, broker *queue.Broker, validator validate.Validator) *Server {
	codes := make(map[string]bool, len(cfg.AccessCodes))
	for _, code := range cfg.AccessCodes {
		codes[code] = true
	}
	return &Server{
		cfg:         cfg,
		broker:      broker,
		validator:   validator,
		logger:      log.WithComponent("api"),
		accessCodes: codes,
	}
}

// Routes assembles the gateway router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/translate/health", s.handleHealth)

	// Submissions kick off minutes of GPU work; rate-limit them harder than
	// the read paths.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/api/translate", s.handleTranslate)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/api/results/{jobID}", s.handleResults)
		r.Handle("/api/files/*", http.StripPrefix("/api/files/", s.secureFileServer()))
		r.Delete("/api/cleanup/{filename}", s.handleCleanup)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request handled")
	})
}
