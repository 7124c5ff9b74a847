package services

import (
	"context"
	"time"
)

// AlignerClient talks to the forced-alignment service, which aligns the
// lyrics transcript against the vocals stem and writes a JSON alignment
// document onto the shared volume.
type AlignerClient struct {
	client
}

// NewAligner builds an aligner client for the given endpoint.
func NewAligner(url string, timeout time.Duration) *AlignerClient {
	return &AlignerClient{newClient("aligner", url, timeout)}
}

type alignResponse struct {
	errorEnvelope
	AlignmentFilePath string `json:"alignment_file_path"`
}

// Align runs forced alignment and returns the path of the alignment JSON
// document on the shared volume.
func (c *AlignerClient) Align(ctx context.Context, vocalsStemPath, lyricsPath string) (string, error) {
	payload := map[string]string{
		"vocals_stem_path": vocalsStemPath,
		"lyrics_path":      lyricsPath,
	}

	var resp alignResponse
	if err := c.postJSON(ctx, payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &ServiceError{c.name, *resp.Error}
	}
	if resp.AlignmentFilePath == "" {
		return "", &ServiceError{c.name, "successful response missing 'alignment_file_path'"}
	}

	c.logger.Info().
		Str("event", "align.done").
		Str("alignment_path", resp.AlignmentFilePath).
		Msg("lyrics aligned")
	return resp.AlignmentFilePath, nil
}
