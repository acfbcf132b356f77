// Package agent holds the model-backed capabilities: transcription,
// translation with language detection, and encounter summaries.
//
// None of the capabilities return errors. Gateway failures degrade to visible
// error text (transcribe, summarize) or to the untranslated input (translate).
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/medbridge/internal/extractor"
	"github.com/MikeSquared-Agency/medbridge/internal/gateway"
)

// AudioMIMEType is the container browsers record with MediaRecorder.
const AudioMIMEType = "audio/webm"

// Completer is satisfied by *gateway.Client.
type Completer interface {
	Complete(ctx context.Context, turns []gateway.Turn, format gateway.ResponseFormat) (string, error)
}

// HistoryEntry is one line of an encounter transcript.
type HistoryEntry struct {
	Role string
	Text string
}

type Agent struct {
	llm    Completer
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Agent {
	return &Agent{llm: llm, logger: logger}
}

// Transcribe returns the model's transcription of the audio clip.
func (a *Agent) Transcribe(ctx context.Context, audio []byte) string {
	turns := []gateway.Turn{
		gateway.AudioTurn(transcribePrompt, audio, AudioMIMEType),
	}

	a.logger.Info("transcribing audio", "audio_bytes", len(audio))

	text, err := a.llm.Complete(ctx, turns, "")
	if err != nil {
		a.logger.Error("transcription failed", "error", err)
		return gateway.SoftText(err)
	}
	return text
}

// Translate translates text into target and reports the detected source
// language.
func (a *Agent) Translate(ctx context.Context, text, target string) extractor.Translation {
	turns := []gateway.Turn{
		gateway.TextTurn(gateway.RoleUser, fmt.Sprintf(translatePrompt, target, text)),
	}

	raw, err := a.llm.Complete(ctx, turns, "")
	if err != nil {
		a.logger.Error("translation failed", "target", target, "error", err)
		return extractor.Identity(text)
	}

	a.logger.Debug("translation raw response", "raw", raw)

	t, err := extractor.ParseTranslation(raw, text)
	if err != nil {
		a.logger.Warn("translation response not parsable, using fallback", "error", err, "raw", raw)
	}
	return t
}

// Summarize produces a structured clinical summary of the encounter.
func (a *Agent) Summarize(ctx context.Context, history []HistoryEntry) string {
	turns := []gateway.Turn{
		gateway.TextTurn(gateway.RoleSystem, scribeSystemPrompt),
		gateway.TextTurn(gateway.RoleUser, fmt.Sprintf(summaryPrompt, FormatTranscript(history))),
	}

	a.logger.Info("summarizing encounter", "messages", len(history))

	summary, err := a.llm.Complete(ctx, turns, "")
	if err != nil {
		a.logger.Error("summary failed", "error", err)
		return gateway.SoftText(err)
	}
	return summary
}

// FormatTranscript renders history as "<Role>: <text>" lines.
func FormatTranscript(history []HistoryEntry) string {
	lines := make([]string, len(history))
	for i, h := range history {
		lines[i] = capitalize(h.Role) + ": " + h.Text
	}
	return strings.Join(lines, "\n")
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
