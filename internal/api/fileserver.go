package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
)

// secureFileServer serves stored audio from the audio directory with checks
// against path traversal, symlink escapes and directory listing. The mount
// point strips the route prefix, so r.URL.Path is the bare filename.
func (s *Server) secureFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.logger.Warn().Str("event", "file_req.denied").Str("path", r.URL.Path).Str("reason", "method_not_allowed").Msg("method not allowed")
			metrics.RecordFileRequest("denied", "method_not_allowed")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			s.logger.Warn().Str("event", "file_req.denied").Str("path", path).Str("reason", "path_escape").Msg("detected traversal sequence")
			metrics.RecordFileRequest("denied", "path_escape")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if path == "" || strings.HasSuffix(path, "/") {
			s.logger.Warn().Str("event", "file_req.denied").Str("path", path).Str("reason", "directory_listing").Msg("directory listing forbidden")
			metrics.RecordFileRequest("denied", "directory_listing")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		absAudioDir, err := filepath.Abs(s.cfg.AudioDir)
		if err != nil {
			s.logger.Error().Err(err).Str("event", "file_req.internal_error").Msg("could not resolve audio dir")
			metrics.RecordFileRequest("denied", "internal_error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		fullPath := filepath.Join(absAudioDir, path)

		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				metrics.RecordFileRequest("denied", "not_found")
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			s.logger.Error().Err(err).Str("event", "file_req.internal_error").Str("path", fullPath).Msg("could not evaluate symlinks")
			metrics.RecordFileRequest("denied", "internal_error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		realAudioDir, err := filepath.EvalSymlinks(absAudioDir)
		if err != nil {
			s.logger.Error().Err(err).Str("event", "file_req.internal_error").Msg("could not evaluate symlinks on audio dir")
			metrics.RecordFileRequest("denied", "internal_error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		// Containment check on the resolved paths protects against symlink
		// escapes out of the audio directory.
		relPath, err := filepath.Rel(realAudioDir, realPath)
		if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
			s.logger.Warn().
				Str("event", "file_req.denied").
				Str("path", path).
				Str("resolved_path", realPath).
				Str("reason", "path_escape").
				Msg("path escapes audio directory")
			metrics.RecordFileRequest("denied", "path_escape")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		f, err := os.Open(realPath)
		if err != nil {
			s.logger.Error().Err(err).Str("event", "file_req.internal_error").Str("path", realPath).Msg("could not open file for serving")
			metrics.RecordFileRequest("denied", "internal_error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			s.logger.Error().Err(err).Str("event", "file_req.internal_error").Str("path", realPath).Msg("could not stat opened file")
			metrics.RecordFileRequest("denied", "internal_error")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if info.IsDir() {
			metrics.RecordFileRequest("denied", "directory_listing")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// Stored audio is immutable after upload, so a weak ETag on modtime
		// and size lets repeat playback hit the browser cache.
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if r.Header.Get("If-None-Match") == etag {
			metrics.RecordFileRequest("allowed", "cache_hit")
			w.WriteHeader(http.StatusNotModified)
			return
		}

		s.logger.Info().Str("event", "file_req.allowed").Str("path", path).Msg("serving file")
		metrics.RecordFileRequest("allowed", "served")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}
