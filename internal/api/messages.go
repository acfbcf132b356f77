package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/MikeSquared-Agency/medbridge/internal/pipeline"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

// addMessage handles POST /api/conversations/{id}/messages. role, text and
// target_lang come from the query string or form; audio is an optional
// multipart file.
func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	audio, err := readAudio(r, s.opts.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, multipart.ErrMessageTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := r.FormValue("role")
	if role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())

	if _, err := s.Store.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, errConversationNotFound)
			return
		}
		s.internalError(w, r, "get conversation failed", err)
		return
	}

	msg, err := s.Pipeline.Process(ctx, pipeline.Input{
		ConversationID: id,
		Role:           role,
		Text:           r.FormValue("text"),
		Audio:          audio,
		TargetLanguage: r.FormValue("target_lang"),
	})
	if errors.Is(err, pipeline.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "Text or audio required")
		return
	}
	if err != nil {
		s.internalError(w, r, "process message failed", err)
		return
	}

	s.invalidateHistory(ctx, id)
	writeJSON(w, http.StatusOK, msg)
}

// readAudio returns the "audio" multipart file, or nil when the request has
// none.
func readAudio(r *http.Request, maxMemory int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	if r.MultipartForm == nil {
		return nil, nil
	}

	f, _, err := r.FormFile("audio")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	msgs, err := s.Store.SearchMessages(r.Context(), q)
	if err != nil {
		s.internalError(w, r, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid message id")
		return
	}
	target := r.URL.Query().Get("target_lang")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target_lang is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	msg, err := s.Pipeline.Regenerate(ctx, id, target)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "regenerate message failed", err)
		return
	}

	s.invalidateHistory(ctx, msg.ConversationID)
	writeJSON(w, http.StatusOK, msg)
}
