package services

import (
	"context"
	"strings"
	"time"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

// rmsTracks are the inputs the volume analyzer accepts: the pre-separation
// song plus every stem.
var rmsTracks = map[string]bool{
	"song":                true,
	translator.StemBass:   true,
	translator.StemDrums:  true,
	translator.StemGuitar: true,
	translator.StemOther:  true,
	translator.StemPiano:  true,
	translator.StemVocals: true,
}

// RMSClient talks to the volume (RMS envelope) analyzer.
type RMSClient struct {
	client
}

// NewRMS builds an RMS client for the given endpoint.
func NewRMS(url string, timeout time.Duration) *RMSClient {
	return &RMSClient{newClient("rms", url, timeout)}
}

type rmsResponse struct {
	errorEnvelope
	translator.RMSReport
}

// Analyze requests loudness envelopes for the song and its stems. Unknown
// track names and empty paths are dropped before the call.
func (c *RMSClient) Analyze(ctx context.Context, audioPaths map[string]string) (*translator.RMSReport, error) {
	if len(audioPaths) == 0 {
		return nil, &ServiceError{c.name, "No audio or stems provided for volume analysis"}
	}

	payload := make(map[string]string, len(audioPaths))
	for track, path := range audioPaths {
		if path == "" || !rmsTracks[strings.ToLower(track)] {
			c.logger.Debug().
				Str("track", track).
				Str("path", path).
				Msg("skipping track for volume analysis")
			continue
		}
		payload[track] = path
	}
	if len(payload) == 0 {
		return nil, &ServiceError{c.name, "No audio was submitted for volume analysis"}
	}

	var resp rmsResponse
	if err := c.postJSON(ctx, map[string]any{"audio_paths": payload}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ServiceError{c.name, *resp.Error}
	}

	c.logger.Info().
		Str("event", "rms.done").
		Int("instruments", len(resp.Instruments)).
		Msg("volume analysis complete")
	report := resp.RMSReport
	return &report, nil
}
