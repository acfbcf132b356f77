package store

import (
	"context"
	"fmt"
	"time"
)

const DefaultTitle = "New Consultation"

type Conversation struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Summary   *string   `json:"summary"`
}

const conversationColumns = `id, title, created_at, summary`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.Summary); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a conversation with the default title.
func (s *Store) CreateConversation(ctx context.Context) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (title) VALUES ($1)
		RETURNING `+conversationColumns, DefaultTitle)

	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations, newest first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)

	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("get conversation %d: %w", id, notFound(err))
	}
	return c, nil
}

func (s *Store) RenameConversation(ctx context.Context, id int64, title string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conversations SET title = $1 WHERE id = $2
		RETURNING `+conversationColumns, title, id)

	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("rename conversation %d: %w", id, notFound(err))
	}
	return c, nil
}

// SetConversationSummary stores the latest encounter summary.
func (s *Store) SetConversationSummary(ctx context.Context, id int64, summary string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET summary = $1 WHERE id = $2`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set summary %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages in one
// transaction.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete conversation %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
