package translator

import (
	"encoding/json"
	"fmt"
)

// AlignmentEntry is one interval from the aligner output, serialized on the
// wire as [start, end, word]. Start and End are nil for untimed intervals.
type AlignmentEntry struct {
	Start *float64
	End   *float64
	Word  string
}

// AlignmentDoc is the aligner's JSON document. Only the word tier is consumed.
type AlignmentDoc struct {
	Tiers struct {
		Words struct {
			Entries []AlignmentEntry `json:"entries"`
		} `json:"words"`
	} `json:"tiers"`
}

// UnmarshalJSON decodes the [start, end, word] array form. Entries shorter
// than three elements keep an empty word, matching the aligner's occasional
// bare intervals.
func (e *AlignmentEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("alignment entry: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("alignment entry: expected [start, end, word], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Start); err != nil {
		return fmt.Errorf("alignment entry start: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.End); err != nil {
		return fmt.Errorf("alignment entry end: %w", err)
	}
	if len(raw) > 2 {
		if err := json.Unmarshal(raw[2], &e.Word); err != nil {
			return fmt.Errorf("alignment entry word: %w", err)
		}
	}
	return nil
}

// MarshalJSON renders the array form.
func (e AlignmentEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Start, e.End, e.Word})
}
