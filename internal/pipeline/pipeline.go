// Package pipeline turns an inbound message into a stored, translated and
// voiced record.
//
// Every step after input resolution always succeeds: translation falls back
// to the original text and synthesis falls back to no audio. The only errors
// are invalid input and store failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/medbridge/internal/extractor"
	"github.com/MikeSquared-Agency/medbridge/internal/hermes"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

const DefaultTargetLanguage = "English"

var ErrInvalidInput = errors.New("text or audio required")

// Capabilities is satisfied by *agent.Agent.
type Capabilities interface {
	Transcribe(ctx context.Context, audio []byte) string
	Translate(ctx context.Context, text, target string) extractor.Translation
}

// Speaker is satisfied by *speech.Synthesizer. Discard drops audio that was
// synthesized for a message that never got stored.
type Speaker interface {
	Synthesize(ctx context.Context, text, language string) string
	Discard(ref string)
}

type Store interface {
	CreateMessage(ctx context.Context, m *store.Message) error
	GetMessage(ctx context.Context, id int64) (*store.Message, error)
	UpdateMessageTranslation(ctx context.Context, m *store.Message) error
}

// Publisher is satisfied by *hermes.Client.
type Publisher interface {
	Publish(subject string, data any) error
}

type Input struct {
	ConversationID int64
	Role           string
	Text           string
	Audio          []byte
	TargetLanguage string
}

type Pipeline struct {
	caps      Capabilities
	speaker   Speaker
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// New builds a pipeline. publisher may be nil.
func New(caps Capabilities, speaker Speaker, s Store, publisher Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		caps:      caps,
		speaker:   speaker,
		store:     s,
		publisher: publisher,
		logger:    logger,
	}
}

// Process resolves, translates, voices and stores one message.
func (p *Pipeline) Process(ctx context.Context, in Input) (*store.Message, error) {
	text := in.Text
	if len(in.Audio) > 0 {
		text = p.caps.Transcribe(ctx, in.Audio)
	}
	if text == "" {
		return nil, ErrInvalidInput
	}

	target := in.TargetLanguage
	if target == "" {
		target = DefaultTargetLanguage
	}

	tr := p.caps.Translate(ctx, text, target)
	audioURL := p.speaker.Synthesize(ctx, tr.TranslatedText, target)

	msg := &store.Message{
		ConversationID: in.ConversationID,
		Role:           in.Role,
		OriginalText:   text,
		TranslatedText: tr.TranslatedText,
		Language:       tr.DetectedLanguage,
		AudioURL:       audioURL,
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		p.speaker.Discard(audioURL)
		return nil, fmt.Errorf("store message: %w", err)
	}

	p.logger.Info("message processed",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"role", msg.Role,
		"detected_language", msg.Language,
		"target_language", target,
		"from_audio", len(in.Audio) > 0,
		"has_audio", audioURL != "",
	)

	p.publish(hermes.SubjectMessageCreated, hermes.NewMessageEvent(msg.ID, msg.ConversationID, msg.Role, msg.Language, target, audioURL != ""))
	return msg, nil
}

// Regenerate re-translates and re-voices a stored message into target. The
// message's language becomes target.
func (p *Pipeline) Regenerate(ctx context.Context, messageID int64, target string) (*store.Message, error) {
	if target == "" {
		return nil, fmt.Errorf("target language: %w", ErrInvalidInput)
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	tr := p.caps.Translate(ctx, msg.OriginalText, target)
	msg.TranslatedText = tr.TranslatedText
	msg.Language = target
	msg.AudioURL = p.speaker.Synthesize(ctx, tr.TranslatedText, target)

	if err := p.store.UpdateMessageTranslation(ctx, msg); err != nil {
		p.speaker.Discard(msg.AudioURL)
		return nil, fmt.Errorf("update message: %w", err)
	}

	p.logger.Info("message regenerated", "message_id", msg.ID, "target_language", target, "has_audio", msg.AudioURL != "")

	p.publish(hermes.SubjectMessageRegenerated, hermes.NewMessageEvent(msg.ID, msg.ConversationID, msg.Role, msg.Language, target, msg.AudioURL != ""))
	return msg, nil
}

func (p *Pipeline) publish(subject string, data any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
