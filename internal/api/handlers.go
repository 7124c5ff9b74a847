package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
)

// maxUploadBytes caps a submission; a full-length song plus lyrics fits
// comfortably.
const maxUploadBytes = 200 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleHealth reports gateway liveness including a live broker ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	connected := s.broker != nil && s.broker.Ping(ctx) == nil
	status := http.StatusOK
	body := map[string]string{
		"status":             "OK",
		"message":            "Music Translator is running",
		"redis_health_check": "connected",
	}
	if !connected {
		status = http.StatusServiceUnavailable
		body["status"] = "Error"
		body["redis_health_check"] = "disconnected (live test)"
	}
	writeJSON(w, status, body)
}

// handleTranslate accepts a multipart submission, persists and validates both
// uploads, and enqueues the translation job.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.pingBroker(ctx); err != nil {
		s.logger.Error().Err(err).Msg("translate request refused, broker unavailable")
		metrics.RecordSubmission("unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Translation service temporarily unavailable. Please try again later.",
		})
		return
	}

	if !s.accessAllowed(r) {
		metrics.RecordSubmission("unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Access Denied. Please provide a valid access code.",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	audioFile, audioHeader, audioErr := r.FormFile("audio")
	lyricsFile, lyricsHeader, lyricsErr := r.FormFile("lyrics")
	if audioErr != nil || lyricsErr != nil {
		if audioErr == nil {
			audioFile.Close()
		}
		if lyricsErr == nil {
			lyricsFile.Close()
		}
		metrics.RecordSubmission("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Missing audio or lyrics file.",
		})
		return
	}
	defer audioFile.Close()
	defer lyricsFile.Close()

	originalAudioName := sanitizeFilename(audioHeader.Filename)
	originalLyricsName := sanitizeFilename(lyricsHeader.Filename)
	if originalAudioName == "" || originalLyricsName == "" {
		metrics.RecordSubmission("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid filename"})
		return
	}

	// Prefix both files with the job ID so concurrent submissions of the
	// same song never collide on the shared volume.
	jobID := uuid.New().String()
	storedAudioName := jobID + "_" + originalAudioName
	audioPath := filepath.Join(s.cfg.AudioDir, storedAudioName)
	lyricsPath := filepath.Join(s.cfg.LyricsDir, jobID+"_"+originalLyricsName)

	if err := saveUpload(audioPath, audioFile); err != nil {
		s.logger.Error().Err(err).Str("path", audioPath).Msg("failed to persist audio upload")
		metrics.RecordSubmission("error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error processing request.",
		})
		return
	}
	if err := saveUpload(lyricsPath, lyricsFile); err != nil {
		s.logger.Error().Err(err).Str("path", lyricsPath).Msg("failed to persist lyrics upload")
		s.discardUploads(audioPath, lyricsPath)
		metrics.RecordSubmission("error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error processing request.",
		})
		return
	}

	if err := s.validator.ValidateAudio(ctx, audioPath); err != nil {
		s.logger.Warn().Err(err).Str("file", originalAudioName).Msg("rejected audio upload")
		s.discardUploads(audioPath, lyricsPath)
		metrics.RecordSubmission("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid audio file."})
		return
	}
	if err := s.validator.ValidateText(ctx, lyricsPath); err != nil {
		s.logger.Warn().Err(err).Str("file", originalLyricsName).Msg("rejected lyrics upload")
		s.discardUploads(audioPath, lyricsPath)
		metrics.RecordSubmission("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid lyrics file."})
		return
	}

	payload := queue.TranslationPayload{
		AudioPath:         audioPath,
		LyricsPath:        lyricsPath,
		StoredAudioName:   storedAudioName,
		OriginalAudioName: originalAudioName,
	}
	if err := s.broker.Enqueue(ctx, queue.TranslationsQueue, jobID, payload, s.cfg.JobTimeout); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to enqueue translation job")
		metrics.RecordSubmission("unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Internal server error processing request",
		})
		return
	}

	s.logger.Info().
		Str("event", "job.submitted").
		Str("job_id", jobID).
		Str("file", originalAudioName).
		Msg("translation job enqueued")
	metrics.RecordSubmission("accepted")
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// pingBroker verifies broker reachability with a short deadline.
func (s *Server) pingBroker(ctx context.Context) error {
	if s.broker == nil {
		return errors.New("broker not configured")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.broker.Ping(pingCtx)
}

// accessAllowed checks the access code from the query string or the
// X-Access-Code header against the configured set.
func (s *Server) accessAllowed(r *http.Request) bool {
	code := r.URL.Query().Get("access_code")
	if code == "" {
		code = r.Header.Get("X-Access-Code")
	}
	return code != "" && s.accessCodes[code]
}

// saveUpload streams the upload to path via a temp file and atomic rename, so
// the worker never observes a half-written input.
func saveUpload(path string, src multipart.File) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup() //nolint:errcheck
	if _, err := io.Copy(t, src); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// discardUploads removes rejected submission files.
func (s *Server) discardUploads(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove rejected upload")
		}
	}
}

// handleResults reports job state: 202 while in flight, 200 with the result
// once finished, 500 with the failure text once failed.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if s.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "Error communicating with Redis.",
		})
		return
	}
	job, err := s.broker.FetchJob(r.Context(), jobID)
	if errors.Is(err, queue.ErrNoSuchJob) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": "Job ID not found or invalid.",
		})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to fetch job")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "Error communicating with Redis.",
		})
		return
	}

	switch job.Status {
	case queue.StatusFinished:
		var result map[string]json.RawMessage
		if json.Unmarshal(job.Result, &result) != nil || result == nil {
			s.logger.Error().Str("job_id", jobID).Msg("finished job carries malformed result")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "failed",
				"message": "Job finished with unexpected result type.",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "finished",
			"result": json.RawMessage(job.Result),
		})
	case queue.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "failed",
			"message": job.ExcInfo,
		})
	default:
		body := map[string]string{"status": string(job.Status)}
		if job.ProgressStage != "" {
			body["progress_stage"] = job.ProgressStage
		}
		writeJSON(w, http.StatusAccepted, body)
	}
}

// handleCleanup deletes one stored audio file at the client's request once
// playback is done. Deleting a file that is already gone succeeds.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	// The router only matches a single path segment here, so a raw
	// ../-style path never reaches this handler; this check catches the
	// percent-encoded forms that survive routing as one segment.
	filename := chi.URLParam(r, "filename")
	safe := sanitizeFilename(filename)
	if safe == "" || safe != filename {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid filename provided"})
		return
	}

	path := filepath.Join(s.cfg.AudioDir, safe)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s.logger.Warn().Str("path", path).Msg("cleanup requested for missing file")
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "File not found, but request is considered complete",
		})
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to delete audio file")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to delete file on server",
		})
		return
	}
	metrics.CleanupFilesTotal.WithLabelValues("audio").Inc()
	s.logger.Info().Str("path", path).Msg("client-triggered cleanup deleted audio file")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully deleted " + safe})
}
