// Package extractor recovers a JSON object from free-form model output.
//
// Models asked for "JSON only" still wrap answers in markdown fences or add
// prose around them. Recovery runs in two stages: slice the first fenced
// block, then slice from the first '{' to the last '}'. The brace scan is a
// heuristic and misreads responses holding more than one object or a stray
// brace in trailing prose.
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const UnknownLanguage = "Unknown"

var ErrNoJSON = errors.New("no json object in response")

// Translation is the structured answer expected from a translate prompt.
type Translation struct {
	TranslatedText   string `json:"translated_text"`
	DetectedLanguage string `json:"detected_language"`
}

// Candidate returns the part of raw most likely to hold the JSON object.
func Candidate(raw string) string {
	s := raw
	if block, ok := fencedBlock(raw); ok && strings.TrimSpace(block) != "" {
		s = block
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return ""
	}
	return s[start : end+1]
}

// fencedBlock returns the content between a ```json (or bare ```) marker and
// the next ``` fence.
func fencedBlock(raw string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		if _, after, ok := strings.Cut(raw, marker); ok {
			block, _, _ := strings.Cut(after, "```")
			return block, true
		}
	}
	return "", false
}

// Extract decodes the JSON object found in raw into v.
func Extract(raw string, v any) error {
	s := strings.TrimSpace(Candidate(raw))
	if s == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

// ParseTranslation extracts a Translation from raw model output. The returned
// Translation is always usable: unparsable output goes through Fallback and
// missing fields default to the original text and UnknownLanguage. A non-nil
// error reports why the fallback was taken.
func ParseTranslation(raw, original string) (Translation, error) {
	var t Translation
	if err := Extract(raw, &t); err != nil {
		return Fallback(raw, original), err
	}
	if t.TranslatedText == "" {
		t.TranslatedText = original
	}
	if t.DetectedLanguage == "" {
		t.DetectedLanguage = UnknownLanguage
	}
	return t, nil
}

// Fallback treats a short, brace-free response as the bare translation;
// anything else yields the original text unchanged.
func Fallback(raw, original string) Translation {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" &&
		utf8.RuneCountInString(raw) < 3*utf8.RuneCountInString(original) &&
		!strings.Contains(raw, "{") {
		return Translation{TranslatedText: trimmed, DetectedLanguage: UnknownLanguage}
	}
	return Identity(original)
}

// Identity is the translation used when nothing usable came back.
func Identity(original string) Translation {
	return Translation{TranslatedText: original, DetectedLanguage: UnknownLanguage}
}
