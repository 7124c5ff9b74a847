package worker

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
)

// RunCleanup removes the intermediate artifacts named by a cleanup job: the
// lyrics file, the alignment document and the separated-stems directory.
// Removal failures are logged and swallowed; a half-cleaned volume is better
// than a failed job, and a later run can catch stragglers. The original audio
// is never touched here, it stays on the volume for playback.
func RunCleanup(ctx context.Context, job *queue.Job) error {
	var payload queue.CleanupPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}
	logger := log.WithJob("cleanup", job.ID)

	removeFile(logger, "lyrics", payload.LyricsPath)
	removeFile(logger, "alignment", payload.AlignmentPath)

	if payload.StemsDir != "" {
		if err := os.RemoveAll(payload.StemsDir); err != nil {
			logger.Warn().Err(err).Str("path", payload.StemsDir).Msg("failed to remove stems directory")
		} else {
			metrics.CleanupFilesTotal.WithLabelValues("stems").Inc()
			logger.Info().Str("path", payload.StemsDir).Msg("removed stems directory")
		}
	}
	return nil
}

func removeFile(logger zerolog.Logger, kind, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return
		}
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove " + kind + " file")
		return
	}
	metrics.CleanupFilesTotal.WithLabelValues(kind).Inc()
	logger.Info().Str("path", path).Msg("removed " + kind + " file")
}
