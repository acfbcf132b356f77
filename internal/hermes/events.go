package hermes

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubjectMessageCreated         = "medbridge.message.created"
	SubjectMessageRegenerated     = "medbridge.message.regenerated"
	SubjectConversationSummarized = "medbridge.conversation.summarized"
)

// MessageEvent announces a stored or re-translated message. It carries
// identifiers and languages only; clinical text stays in the database.
type MessageEvent struct {
	EventID        string    `json:"event_id"`
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	Language       string    `json:"language"`
	TargetLanguage string    `json:"target_language"`
	HasAudio       bool      `json:"has_audio"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type ConversationSummarized struct {
	EventID        string    `json:"event_id"`
	ConversationID int64     `json:"conversation_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewMessageEvent(messageID, conversationID int64, role, language, target string, hasAudio bool) MessageEvent {
	return MessageEvent{
		EventID:        uuid.NewString(),
		MessageID:      messageID,
		ConversationID: conversationID,
		Role:           role,
		Language:       language,
		TargetLanguage: target,
		HasAudio:       hasAudio,
		OccurredAt:     time.Now().UTC(),
	}
}

func NewConversationSummarized(conversationID int64) ConversationSummarized {
	return ConversationSummarized{
		EventID:        uuid.NewString(),
		ConversationID: conversationID,
		OccurredAt:     time.Now().UTC(),
	}
}
