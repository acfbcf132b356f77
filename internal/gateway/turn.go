package gateway

import (
	"encoding/base64"

	"github.com/sashabaranov/go-openai"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ResponseFormat optionally constrains the completion, e.g. FormatJSONObject.
type ResponseFormat string

const FormatJSONObject ResponseFormat = "json_object"

// Turn is one chat message. A turn carries either Text or Parts.
type Turn struct {
	Role  string
	Text  string
	Parts []Part
}

// Part is a content segment: text, or binary data inlined as a data URI.
type Part struct {
	Text    string
	DataURI string
}

func TextTurn(role, text string) Turn {
	return Turn{Role: role, Text: text}
}

// AudioTurn builds a user turn with an instruction followed by the audio as a
// data URI. The endpoint has no audio segment type, so the audio travels in an
// image_url segment.
func AudioTurn(instruction string, audio []byte, mimeType string) Turn {
	return Turn{
		Role: RoleUser,
		Parts: []Part{
			{Text: instruction},
			{DataURI: DataURI(mimeType, audio)},
		},
	}
}

// DataURI encodes data as data:<mime>;base64,<...>.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (t Turn) toOpenAI() openai.ChatCompletionMessage {
	if len(t.Parts) == 0 {
		return openai.ChatCompletionMessage{Role: t.Role, Content: t.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(t.Parts))
	for _, p := range t.Parts {
		if p.DataURI != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.DataURI},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: p.Text,
		})
	}
	return openai.ChatCompletionMessage{Role: t.Role, MultiContent: parts}
}
