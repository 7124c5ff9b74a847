// Package translator defines the domain types shared by the gateway, the
// worker and the transcript mapper: the line-structured mapped transcript,
// per-stem analysis payloads and the final job result.
package translator

import (
	"encoding/json"
	"fmt"
)

// Known stem names produced by the separator.
const (
	StemVocals = "vocals"
	StemBass   = "bass"
	StemDrums  = "drums"
	StemGuitar = "guitar"
	StemPiano  = "piano"
	StemOther  = "other"
)

// TonalStems lists the stems eligible for F0 analysis. Drums are percussive
// and carry no usable fundamental frequency.
var TonalStems = map[string]bool{
	StemVocals: true,
	StemBass:   true,
	StemGuitar: true,
	StemPiano:  true,
	StemOther:  true,
}

// MappedWord is a single lyric token with its aligned interval. Start and End
// are nil when the aligner produced no timing for the token.
type MappedWord struct {
	Word  string   `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// MappedLine is one lyric line with per-word timing. LineStartTime and
// LineEndTime span the timed words of the line and are nil when no word in
// the line carries timing.
type MappedLine struct {
	LineText      string       `json:"line_text"`
	Words         []MappedWord `json:"words"`
	LineStartTime *float64     `json:"line_start_time"`
	LineEndTime   *float64     `json:"line_end_time"`
}

// F0Series is the per-stem fundamental frequency curve. F0Values holds one
// entry per analysis frame; nil marks an unvoiced frame.
type F0Series struct {
	Times        []float64  `json:"times"`
	F0Values     []*float64 `json:"f0_values"`
	TimeInterval float64    `json:"time_interval"`
}

// F0Outcome is the tagged variant stored under the result's f0_analysis key:
// either a per-instrument series map, an informational skip, or an in-band
// error from a degraded F0 stage.
type F0Outcome struct {
	Stems map[string]*F0Series
	Info  string
	Err   string
}

// MarshalJSON renders the variant in the wire form consumed by clients:
// {"error":...,"info":...}, {"info":...} or {instrument: series|null, ...}.
func (o F0Outcome) MarshalJSON() ([]byte, error) {
	switch {
	case o.Err != "":
		return json.Marshal(map[string]string{"error": o.Err, "info": o.Info})
	case o.Info != "" && o.Stems == nil:
		return json.Marshal(map[string]string{"info": o.Info})
	default:
		return json.Marshal(o.Stems)
	}
}

// UnmarshalJSON restores the variant from its wire form.
func (o *F0Outcome) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("f0 outcome: %w", err)
	}
	if raw, ok := probe["error"]; ok {
		if err := json.Unmarshal(raw, &o.Err); err != nil {
			return fmt.Errorf("f0 outcome error field: %w", err)
		}
		if raw, ok := probe["info"]; ok {
			if err := json.Unmarshal(raw, &o.Info); err != nil {
				return fmt.Errorf("f0 outcome info field: %w", err)
			}
		}
		return nil
	}
	if raw, ok := probe["info"]; ok && len(probe) == 1 {
		return json.Unmarshal(raw, &o.Info)
	}
	stems := make(map[string]*F0Series, len(probe))
	for instrument, raw := range probe {
		var series *F0Series
		if err := json.Unmarshal(raw, &series); err != nil {
			return fmt.Errorf("f0 series for %q: %w", instrument, err)
		}
		stems[instrument] = series
	}
	o.Stems = stems
	return nil
}

// InstrumentRMS wraps the loudness envelope of a single stem. Each element of
// RMSValues is a [timestamp, rms] pair.
type InstrumentRMS struct {
	RMSValues [][]float64 `json:"rms_values"`
}

// RMSReport is the volume analyzer response: the overall envelope of the mix
// plus one envelope per stem.
type RMSReport struct {
	OverallRMS  [][]float64              `json:"overall_rms"`
	Instruments map[string]InstrumentRMS `json:"instruments"`
	Errors      []string                 `json:"errors,omitempty"`
}

// DrumOnset is one detected percussive event from the drum analyzer.
type DrumOnset struct {
	OnsetTime         float64   `json:"onset_time"`
	Duration          float64   `json:"duration"`
	RelativeVolume    float64   `json:"relative_volume"`
	DominantFrequency float64   `json:"dominant_frequency"`
	SpectralCentroid  float64   `json:"spectral_centroid"`
	SpectralRolloff   float64   `json:"spectral_rolloff"`
	SpectralFlux      float64   `json:"spectral_flux"`
	MFCCs             []float64 `json:"mfccs"`
}

// Result is the canonical output of a finished translation job. RMSAnalysis
// and DrumAnalysis are only present when the optional stages ran.
type Result struct {
	MappedResult     []MappedLine `json:"mapped_result"`
	F0Analysis       *F0Outcome   `json:"f0_analysis"`
	AudioURL         string       `json:"audio_url"`
	OriginalFilename string       `json:"original_filename"`
	RMSAnalysis      *RMSReport   `json:"rms_analysis,omitempty"`
	DrumAnalysis     []DrumOnset  `json:"drum_analysis,omitempty"`
}
