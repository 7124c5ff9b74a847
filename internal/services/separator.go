package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"
)

// SeparatorClient talks to the stem separation service. The service reads the
// audio from the shared volume, so only the basename travels on the wire.
type SeparatorClient struct {
	client
}

// NewSeparator builds a separator client for the given endpoint.
func NewSeparator(url string, timeout time.Duration) *SeparatorClient {
	return &SeparatorClient{newClient("separator", url, timeout)}
}

// Separate requests stem separation for the audio file and returns the
// stem-name to absolute-path mapping produced on the shared volume.
func (c *SeparatorClient) Separate(ctx context.Context, audioPath string) (map[string]string, error) {
	payload := map[string]string{"audio_filename": filepath.Base(audioPath)}

	var raw map[string]json.RawMessage
	if err := c.postJSON(ctx, payload, &raw); err != nil {
		return nil, err
	}
	if errMsg, ok := raw["error"]; ok {
		var msg string
		_ = json.Unmarshal(errMsg, &msg)
		return nil, &ServiceError{c.name, msg}
	}

	stems := make(map[string]string, len(raw))
	for stem, rawPath := range raw {
		var path string
		if err := json.Unmarshal(rawPath, &path); err != nil {
			return nil, &ServiceError{c.name, "unexpected response shape: non-string stem path for " + stem}
		}
		stems[stem] = path
	}

	c.logger.Info().
		Str("event", "separate.done").
		Str("audio", filepath.Base(audioPath)).
		Int("stems", len(stems)).
		Msg("audio separated")
	return stems, nil
}
