package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Queue names shared by the gateway and the worker.
const (
	TranslationsQueue = "translations"
	CleanupQueue      = "cleanup_files"
)

// Status is the monotonic lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// statusRank orders statuses so transitions can be checked for regressions.
// Both terminal states share a rank: neither may replace the other.
var statusRank = map[Status]int{
	StatusQueued:   0,
	StatusStarted:  1,
	StatusFinished: 2,
	StatusFailed:   2,
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Job is the broker-side record of one unit of pipeline work. Queue is only
// populated on records returned by Dequeue.
type Job struct {
	ID            string
	Queue         string
	Status        Status
	ProgressStage string
	ExcInfo       string
	Result        json.RawMessage
	Payload       json.RawMessage
	Timeout       time.Duration
	CreatedAt     time.Time
}

// DecodePayload unmarshals the job payload into dst.
func (j *Job) DecodePayload(dst any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s: empty payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("job %s: decode payload: %w", j.ID, err)
	}
	return nil
}

// TranslationPayload is the submission recorded by the gateway: the persisted
// input paths plus the names needed to build the playback URL.
type TranslationPayload struct {
	AudioPath         string `json:"audio_path"`
	LyricsPath        string `json:"lyrics_path"`
	StoredAudioName   string `json:"stored_audio_name"`
	OriginalAudioName string `json:"original_audio_name"`
}

// CleanupPayload names the intermediate artifacts to remove once a result has
// been assembled. The original audio is deliberately absent: it stays on the
// volume for playback until the client deletes it.
type CleanupPayload struct {
	LyricsPath    string `json:"lyrics_path"`
	AlignmentPath string `json:"alignment_path"`
	StemsDir      string `json:"stems_dir"`
}
