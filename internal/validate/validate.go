// Package validate checks uploaded files before a job is enqueued: the audio
// must sniff as audio and survive a decoder probe, the lyrics must be plain
// UTF-8 text.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
)

// Validator checks persisted uploads before they enter the pipeline.
type Validator interface {
	ValidateAudio(ctx context.Context, path string) error
	ValidateText(ctx context.Context, path string) error
}

// FFprobe validates audio by content sniffing plus a decoder probe with the
// configured ffprobe binary.
type FFprobe struct {
	Bin    string
	logger zerolog.Logger
}

// NewFFprobe builds a validator around the given ffprobe binary.
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{Bin: bin, logger: log.WithComponent("validate")}
}

const sniffLen = 512

func sniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return "", fmt.Errorf("file %s is empty", path)
	}
	return http.DetectContentType(buf[:n]), nil
}

// ValidateAudio rejects files that do not sniff as audio or that ffprobe
// cannot parse.
func (v *FFprobe) ValidateAudio(ctx context.Context, path string) error {
	contentType, err := sniffFile(path)
	if err != nil {
		return fmt.Errorf("validate audio: %w", err)
	}
	if !strings.HasPrefix(contentType, "audio/") {
		return fmt.Errorf("validate audio: %s has content type %s, want audio/*", path, contentType)
	}

	cmd := exec.CommandContext(ctx, v.Bin,
		"-v", "error",
		"-show_entries", "format=format_name",
		"-of", "default=noprint_wrappers=1",
		path)
	if out, err := cmd.CombinedOutput(); err != nil {
		v.logger.Warn().
			Err(err).
			Str("path", path).
			Str("output", string(bytes.TrimSpace(out))).
			Msg("ffprobe rejected audio file")
		return fmt.Errorf("validate audio: ffprobe failed for %s: %w", path, err)
	}
	return nil
}

// maxLyricsBytes caps how large a lyrics file may be. A song transcript is a
// few kilobytes; anything beyond this is not lyrics.
const maxLyricsBytes = 4 << 20

// ValidateText rejects empty, oversized, binary and non-UTF-8 lyrics files.
// The whole file is inspected.
func (v *FFprobe) ValidateText(_ context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("validate text: %w", err)
	}
	if info.Size() > maxLyricsBytes {
		return fmt.Errorf("validate text: file %s is too large for lyrics (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("validate text: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("validate text: file %s is empty", path)
	}
	if bytes.IndexByte(data, 0x00) >= 0 {
		return fmt.Errorf("validate text: file %s contains binary data", path)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("validate text: file %s is not valid UTF-8", path)
	}
	return nil
}
