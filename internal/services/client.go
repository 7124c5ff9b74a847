// Package services holds the HTTP clients for the external analyzers: stem
// separator, forced aligner, F0 analyzer, RMS analyzer and drum analyzer.
// Every client validates its input, POSTs JSON with a long per-request
// timeout and returns classified errors instead of panicking.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
)

// ServiceError is a classified failure from an analyzer call: transport
// trouble, a non-2xx status, an undecodable body, or an in-band error object.
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// client is the shared HTTP plumbing behind every analyzer client.
type client struct {
	name   string
	url    string
	http   *http.Client
	logger zerolog.Logger
}

func newClient(name, url string, timeout time.Duration) client {
	return client{
		name:   name,
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: log.WithComponent(name + "-client"),
	}
}

// errBodyLimit caps how much of an error response body ends up in messages.
const errBodyLimit = 512

// postJSON sends payload to the service and decodes the 2xx response body
// into out. All failure modes come back as *ServiceError.
func (c *client) postJSON(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &ServiceError{c.name, fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &ServiceError{c.name, fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{c.name, classifyTransport(err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return &ServiceError{c.name, fmt.Sprintf("HTTP error: %s - Response: %s", resp.Status, snippet)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{c.name, fmt.Sprintf("error decoding JSON response: %v", err)}
	}
	return nil
}

func classifyTransport(err error) string {
	var uerr interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timeout: %v", err)
	case errors.As(err, &uerr) && uerr.Timeout():
		return fmt.Sprintf("timeout: %v", err)
	default:
		return fmt.Sprintf("connection error: %v", err)
	}
}

// errorEnvelope catches the analyzers' in-band {"error": "..."} convention.
type errorEnvelope struct {
	Error *string `json:"error"`
}
