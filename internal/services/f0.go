package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

// F0Client talks to the fundamental-frequency analyzer.
type F0Client struct {
	client
}

// NewF0 builds an F0 client for the given endpoint.
func NewF0(url string, timeout time.Duration) *F0Client {
	return &F0Client{newClient("f0", url, timeout)}
}

// Analyze requests F0 curves for the tonal stems. Drums and stems with empty
// paths are filtered out before the call; if nothing survives the filter the
// service is not contacted and an informational outcome is returned.
func (c *F0Client) Analyze(ctx context.Context, stemPaths map[string]string) (translator.F0Outcome, error) {
	if len(stemPaths) == 0 {
		return translator.F0Outcome{}, &ServiceError{c.name, "No stem paths provided for F0 analysis."}
	}

	payload := make(map[string]string, len(stemPaths))
	for instrument, path := range stemPaths {
		if path == "" || !translator.TonalStems[strings.ToLower(instrument)] {
			c.logger.Debug().
				Str("instrument", instrument).
				Str("path", path).
				Msg("skipping stem for F0 analysis")
			continue
		}
		payload[instrument] = path
	}
	if len(payload) == 0 {
		c.logger.Warn().Msg("no relevant stems left after filtering")
		return translator.F0Outcome{Info: "No relevant stems were submitted for F0 analysis."}, nil
	}

	var raw map[string]json.RawMessage
	if err := c.postJSON(ctx, map[string]any{"stem_paths": payload}, &raw); err != nil {
		return translator.F0Outcome{}, err
	}
	if errMsg, ok := raw["error"]; ok {
		var msg string
		_ = json.Unmarshal(errMsg, &msg)
		return translator.F0Outcome{}, &ServiceError{c.name, msg}
	}

	stems := make(map[string]*translator.F0Series, len(raw))
	for instrument, rawSeries := range raw {
		var series *translator.F0Series
		if err := json.Unmarshal(rawSeries, &series); err != nil {
			return translator.F0Outcome{}, &ServiceError{c.name, "error decoding JSON response: bad series for " + instrument}
		}
		stems[instrument] = series
	}

	c.logger.Info().
		Str("event", "f0.done").
		Int("instruments", len(stems)).
		Msg("F0 analysis complete")
	return translator.F0Outcome{Stems: stems}, nil
}
