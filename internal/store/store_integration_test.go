//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func createConversation(t *testing.T, s *Store) *Conversation {
	t.Helper()
	ctx := context.Background()
	c, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", c.ID)
	})
	return c
}

func TestIntegration_ConversationLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := createConversation(t, s)
	if c.Title != DefaultTitle {
		t.Errorf("expected default title, got %q", c.Title)
	}
	if c.Summary != nil {
		t.Errorf("expected nil summary, got %q", *c.Summary)
	}

	renamed, err := s.RenameConversation(ctx, c.ID, "Follow-up visit")
	if err != nil {
		t.Fatalf("RenameConversation failed: %v", err)
	}
	if renamed.Title != "Follow-up visit" {
		t.Errorf("expected renamed title, got %q", renamed.Title)
	}

	if err := s.SetConversationSummary(ctx, c.ID, "## Symptoms\nHeadache"); err != nil {
		t.Fatalf("SetConversationSummary failed: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Summary == nil || *got.Summary != "## Symptoms\nHeadache" {
		t.Errorf("expected stored summary, got %v", got.Summary)
	}

	convs, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) == 0 || convs[0].ID < c.ID {
		t.Errorf("expected newest conversation first, got %+v", convs)
	}
}

func TestIntegration_NotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.GetConversation(ctx, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConversation: expected ErrNotFound, got %v", err)
	}
	if _, err := s.RenameConversation(ctx, -1, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameConversation: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteConversation(ctx, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteConversation: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetMessage(ctx, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateMessageTranslation(ctx, &Message{ID: -1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMessageTranslation: expected ErrNotFound, got %v", err)
	}
}

func TestIntegration_Messages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := createConversation(t, s)
	marker := uuid.NewString()[:8]

	first := &Message{
		ConversationID: c.ID,
		Role:           "patient",
		OriginalText:   "Me duele la cabeza " + marker,
		TranslatedText: "My head hurts " + marker,
		Language:       "Spanish",
		AudioURL:       "/static/audio/a.wav",
	}
	if err := s.CreateMessage(ctx, first); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if first.ID == 0 || first.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp to be filled, got %+v", first)
	}

	second := &Message{
		ConversationID: c.ID,
		Role:           "doctor",
		OriginalText:   "Since when?",
		TranslatedText: "¿Desde cuándo?",
		Language:       "English",
	}
	if err := s.CreateMessage(ctx, second); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	history, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(history) != 2 || history[0].ID != first.ID || history[1].ID != second.ID {
		t.Fatalf("expected messages in send order, got %+v", history)
	}
	if history[1].AudioURL != "" {
		t.Errorf("expected empty audio url, got %q", history[1].AudioURL)
	}

	found, err := s.SearchMessages(ctx, "MY HEAD HURTS "+marker)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != first.ID {
		t.Errorf("expected case-insensitive match on translated text, got %+v", found)
	}

	first.TranslatedText = "Me duele la cabeza"
	first.Language = "French"
	first.AudioURL = ""
	if err := s.UpdateMessageTranslation(ctx, first); err != nil {
		t.Fatalf("UpdateMessageTranslation failed: %v", err)
	}
	got, err := s.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Language != "French" || got.AudioURL != "" || got.OriginalText != first.OriginalText {
		t.Errorf("unexpected message after update: %+v", got)
	}

	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	if _, err := s.GetMessage(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected messages to be deleted with conversation, got %v", err)
	}
}

func TestIntegration_LongRoleAndLanguage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := createConversation(t, s)

	lang := "Spanish (Latin American, " + strings.Repeat("possibly Mexican dialect, ", 10) + "with English loanwords)"
	m := &Message{
		ConversationID: c.ID,
		Role:           strings.Repeat("attending-physician-", 5),
		OriginalText:   "Me duele el estómago",
		TranslatedText: "My stomach hurts",
		Language:       lang,
	}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	m.Language = strings.Repeat("Portuguese (Brazil) ", 10)
	if err := s.UpdateMessageTranslation(ctx, m); err != nil {
		t.Fatalf("UpdateMessageTranslation failed: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Language != m.Language || got.Role != m.Role {
		t.Errorf("expected long values round-tripped, got role %q language %q", got.Role, got.Language)
	}
}

func TestIntegration_MigrateIsRepeatable(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}
