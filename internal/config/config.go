// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds the runtime configuration shared by the gateway and the worker.
type Config struct {
	// Broker connection.
	RedisHost string
	RedisPort int

	// Shared-volume layout. Both directories must be visible to the gateway,
	// every worker and every analyzer service under the same paths.
	AudioDir  string
	LyricsDir string

	// Gateway.
	ListenAddr  string
	AccessCodes []string

	// Analyzer endpoints. RMS and drum analysis are optional stages and stay
	// disabled while their URL is empty.
	SeparatorURL string
	AlignerURL   string
	F0URL        string
	RMSURL       string
	DrumURL      string

	// Timeouts and retention.
	ServiceTimeout time.Duration // per analyzer request
	JobTimeout     time.Duration // per pipeline job
	ResultTTL      time.Duration // retention of terminal jobs in the broker

	// External tool used for audio validation.
	FFprobeBin string
}

// Load reads the configuration from the environment, applying the defaults
// used by the cluster deployment.
func Load() Config {
	return Config{
		RedisHost: ParseString("REDIS_HOST", "redis-service"),
		RedisPort: ParseInt("REDIS_PORT", 6379),

		AudioDir:  ParseString("AUDIO_DIR", "/shared-data/audio"),
		LyricsDir: ParseString("LYRICS_DIR", "/shared-data/lyrics"),

		ListenAddr:  ParseString("LISTEN_ADDR", ":20005"),
		AccessCodes: ParseStringSlice("ACCESS_CODES", nil),

		SeparatorURL: ParseString("SEPARATOR_SERVICE_URL", "http://demucs-service:22227/api/separate"),
		AlignerURL:   ParseString("ALIGNER_SERVICE_URL", "http://mfa-service:24725/api/align"),
		F0URL:        ParseString("F0_SERVICE_URL", "http://f0-service:20006/api/analyze_f0"),
		RMSURL:       ParseString("RMS_SERVICE_URL", ""),
		DrumURL:      ParseString("DRUM_SERVICE_URL", ""),

		ServiceTimeout: ParseDuration("SERVICE_TIMEOUT", 20*time.Minute),
		JobTimeout:     ParseDuration("JOB_TIMEOUT", 5000*time.Second),
		ResultTTL:      ParseDuration("JOB_RESULT_TTL", 24*time.Hour),

		FFprobeBin: ParseString("FFPROBE_BIN", "ffprobe"),
	}
}

// RedisAddr returns the broker address in host:port form.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// Validate reports configuration that cannot work at runtime.
func (c Config) Validate() error {
	if c.AudioDir == "" || c.LyricsDir == "" {
		return fmt.Errorf("config: audio and lyrics directories must be set")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("config: job timeout must be positive, got %s", c.JobTimeout)
	}
	if c.ServiceTimeout <= 0 {
		return fmt.Errorf("config: service timeout must be positive, got %s", c.ServiceTimeout)
	}
	return nil
}
