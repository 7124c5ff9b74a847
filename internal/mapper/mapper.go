// Package mapper merges forced-alignment output with the lyrics transcript
// into the line-structured mapped result.
package mapper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

// tokenPunct are the characters stripped from both ends of a token before
// matching. Inner punctuation stays.
const tokenPunct = ".,!?;:"

// Line is a tokenized lyric line: the original stripped text plus the
// normalized word list used for matching.
type Line struct {
	Text  string
	Words []string
}

// NormalizeToken lowercases a token and strips leading/trailing punctuation.
func NormalizeToken(token string) string {
	return strings.Trim(strings.ToLower(token), tokenPunct)
}

// ProcessTranscript reads the lyrics file and tokenizes it line by line.
// Blank lines and lines whose tokens normalize away entirely are dropped.
func ProcessTranscript(lyricsPath string) ([]Line, error) {
	f, err := os.Open(lyricsPath)
	if err != nil {
		return nil, fmt.Errorf("open lyrics file: %w", err)
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var words []string
		for _, token := range strings.Fields(text) {
			if w := NormalizeToken(token); w != "" {
				words = append(words, w)
			}
		}
		if len(words) > 0 {
			lines = append(lines, Line{Text: text, Words: words})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lyrics file: %w", err)
	}
	return lines, nil
}

// MapTranscript maps the alignment document at alignmentPath onto the lyrics
// at lyricsPath. It returns a non-nil error only when either file is
// unreadable or the alignment is not valid JSON; an empty transcript yields
// an empty, non-nil slice.
func MapTranscript(alignmentPath, lyricsPath string) ([]translator.MappedLine, error) {
	data, err := os.ReadFile(alignmentPath)
	if err != nil {
		return nil, fmt.Errorf("read alignment file: %w", err)
	}
	var doc translator.AlignmentDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode alignment JSON: %w", err)
	}

	lines, err := ProcessTranscript(lyricsPath)
	if err != nil {
		return nil, err
	}

	return Map(doc.Tiers.Words.Entries, lines), nil
}

// Map aligns lyric lines against alignment entries with a single monotonic
// cursor. For each token the scan starts where the previous match left off;
// a successful match consumes its entry, a miss consumes nothing. The cursor
// never rewinds across lines, which keeps the mapping linear in the total
// number of entries and tokens.
func Map(entries []translator.AlignmentEntry, lines []Line) []translator.MappedLine {
	result := make([]translator.MappedLine, 0, len(lines))
	cursor := 0

	for _, line := range lines {
		words := make([]translator.MappedWord, 0, len(line.Words))
		var lineStart, lineEnd *float64
		next := cursor

		for _, token := range line.Words {
			matched := false
			for j := next; j < len(entries); j++ {
				if NormalizeToken(entries[j].Word) != token {
					continue
				}
				words = append(words, translator.MappedWord{
					Word:  entries[j].Word,
					Start: entries[j].Start,
					End:   entries[j].End,
				})
				if s := entries[j].Start; s != nil && (lineStart == nil || *s < *lineStart) {
					lineStart = s
				}
				if e := entries[j].End; e != nil && (lineEnd == nil || *e > *lineEnd) {
					lineEnd = e
				}
				next = j + 1
				matched = true
				break
			}
			if !matched {
				words = append(words, translator.MappedWord{Word: token})
			}
		}

		cursor = next
		if len(words) > 0 {
			result = append(result, translator.MappedLine{
				LineText:      line.Text,
				Words:         words,
				LineStartTime: lineStart,
				LineEndTime:   lineEnd,
			})
		}
	}

	return result
}
