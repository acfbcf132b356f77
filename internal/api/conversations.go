package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/medbridge/internal/agent"
	"github.com/MikeSquared-Agency/medbridge/internal/hermes"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

const errConversationNotFound = "Conversation not found"

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.Store.CreateConversation(r.Context())
	if err != nil {
		s.internalError(w, r, "create conversation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.Store.ListConversations(r.Context())
	if err != nil {
		s.internalError(w, r, "list conversations failed", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) renameConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	conv, err := s.Store.RenameConversation(r.Context(), id, title)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errConversationNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, "rename conversation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	err := s.Store.DeleteConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errConversationNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, "delete conversation failed", err)
		return
	}

	s.invalidateHistory(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	msgs, err := s.loadHistory(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "load history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) summarize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	// Finish the model call even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	if _, err := s.Store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errConversationNotFound)
			return
		}
		s.internalError(w, r, "get conversation failed", err)
		return
	}

	msgs, err := s.loadHistory(ctx, id)
	if err != nil {
		s.internalError(w, r, "load history failed", err)
		return
	}

	history := make([]agent.HistoryEntry, len(msgs))
	for i, m := range msgs {
		history[i] = agent.HistoryEntry{Role: m.Role, Text: m.OriginalText}
	}
	summary := s.Summarizer.Summarize(ctx, history)

	if err := s.Store.SetConversationSummary(ctx, id, summary); err != nil {
		s.internalError(w, r, "store summary failed", err)
		return
	}

	s.publish(hermes.SubjectConversationSummarized, hermes.NewConversationSummarized(id))
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// loadHistory reads through the cache. The generation is taken before the
// database read so a concurrent write invalidates what this call caches.
func (s *Server) loadHistory(ctx context.Context, id int64) ([]store.Message, error) {
	if s.Cache == nil {
		return s.Store.ListMessages(ctx, id)
	}

	msgs, gen, ok := s.Cache.Get(ctx, id)
	if ok {
		return msgs, nil
	}
	msgs, err := s.Store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, id, gen, msgs)
	return msgs, nil
}

func (s *Server) invalidateHistory(ctx context.Context, id int64) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, id)
	}
}
