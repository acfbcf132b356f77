package store

import (
	"context"
	"fmt"
	"time"
)

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role"`
	OriginalText   string    `json:"original_text"`
	TranslatedText string    `json:"translated_text"`
	Language       string    `json:"language"`
	AudioURL       string    `json:"audio_url"`
	Timestamp      time.Time `json:"timestamp"`
}

const messageColumns = `id, conversation_id, role, original_text, translated_text, language, COALESCE(audio_url, ''), timestamp`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.OriginalText, &m.TranslatedText, &m.Language, &m.AudioURL, &m.Timestamp)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts m and fills in its ID and Timestamp.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, original_text, translated_text, language, audio_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, timestamp`,
		m.ConversationID, m.Role, m.OriginalText, m.TranslatedText, m.Language, m.AudioURL,
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, notFound(err))
	}
	return m, nil
}

// ListMessages returns a conversation's messages in the order they were sent.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE conversation_id = $1
		ORDER BY timestamp ASC, id ASC`, conversationID)
}

// UpdateMessageTranslation overwrites the translation fields of a message.
func (s *Store) UpdateMessageTranslation(ctx context.Context, m *Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET translated_text = $1, language = $2, audio_url = NULLIF($3, '')
		WHERE id = $4`,
		m.TranslatedText, m.Language, m.AudioURL, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update message %d: %w", m.ID, ErrNotFound)
	}
	return nil
}

// SearchMessages finds messages whose original or translated text contains q,
// ignoring case.
func (s *Store) SearchMessages(ctx context.Context, q string) ([]Message, error) {
	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE original_text ILIKE $1 ESCAPE '\' OR translated_text ILIKE $1 ESCAPE '\'
		ORDER BY timestamp ASC, id ASC`, likePattern(q))
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
