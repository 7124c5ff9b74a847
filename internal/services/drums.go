package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

// DrumClient talks to the drum onset analyzer. The stage is off the primary
// path: the worker only invokes it when an endpoint is configured.
type DrumClient struct {
	client
}

// NewDrums builds a drum analysis client for the given endpoint.
func NewDrums(url string, timeout time.Duration) *DrumClient {
	return &DrumClient{newClient("drums", url, timeout)}
}

// Analyze requests onset detection for the drums stem.
func (c *DrumClient) Analyze(ctx context.Context, drumsPath string) ([]translator.DrumOnset, error) {
	if drumsPath == "" {
		return nil, &ServiceError{c.name, "no drums stem provided for onset analysis"}
	}

	var raw json.RawMessage
	if err := c.postJSON(ctx, map[string]string{"drums_path": drumsPath}, &raw); err != nil {
		return nil, err
	}

	// The service returns either an onset array or an {"error": ...} object.
	var envelope errorEnvelope
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		return nil, &ServiceError{c.name, *envelope.Error}
	}

	var onsets []translator.DrumOnset
	if err := json.Unmarshal(raw, &onsets); err != nil {
		return nil, &ServiceError{c.name, "error decoding JSON response: " + err.Error()}
	}

	c.logger.Info().
		Str("event", "drums.done").
		Int("onsets", len(onsets)).
		Msg("drum analysis complete")
	return onsets, nil
}
