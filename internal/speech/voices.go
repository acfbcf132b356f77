package speech

import "strings"

// Voice pairs a language name with a Piper voice model.
type Voice struct {
	Language string
	ID       string
}

// DefaultVoice is used when no language in the table matches.
const DefaultVoice = "en_US-lessac-medium"

// DefaultVoices is searched in order; the first fuzzy match wins.
var DefaultVoices = []Voice{
	{Language: "English", ID: "en_US-lessac-medium"},
	{Language: "Spanish", ID: "es_ES-mls_10246-low"},
	{Language: "French", ID: "fr_FR-siwis-medium"},
	{Language: "German", ID: "de_DE-thorsten-medium"},
	{Language: "Hindi", ID: "hi_IN-pratham-medium"},
	{Language: "Chinese", ID: "zh_CN-huayan-medium"},
	{Language: "Arabic", ID: "ar_JO-kareem-medium"},
	{Language: "Japanese", ID: "ja_JP-amitaro-medium"},
}

// SelectVoice picks the voice for a free-form language name. An exact match
// wins; otherwise the first entry where either name contains the other,
// ignoring case; otherwise DefaultVoice.
func SelectVoice(voices []Voice, language string) string {
	for _, v := range voices {
		if v.Language == language {
			return v.ID
		}
	}
	if language == "" {
		return DefaultVoice
	}
	lang := strings.ToLower(language)
	for _, v := range voices {
		name := strings.ToLower(v.Language)
		if strings.Contains(lang, name) || strings.Contains(name, lang) {
			return v.ID
		}
	}
	return DefaultVoice
}
