package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/medbridge/internal/agent"
	"github.com/MikeSquared-Agency/medbridge/internal/pipeline"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

// defaultMaxUploadBytes caps a multipart audio upload.
const defaultMaxUploadBytes = 32 << 20

type Store interface {
	CreateConversation(ctx context.Context) (*store.Conversation, error)
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*store.Conversation, error)
	RenameConversation(ctx context.Context, id int64, title string) (*store.Conversation, error)
	SetConversationSummary(ctx context.Context, id int64, summary string) error
	DeleteConversation(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error)
	SearchMessages(ctx context.Context, q string) ([]store.Message, error)
}

// Processor is satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*store.Message, error)
	Regenerate(ctx context.Context, messageID int64, target string) (*store.Message, error)
}

// Summarizer is satisfied by *agent.Agent.
type Summarizer interface {
	Summarize(ctx context.Context, history []agent.HistoryEntry) string
}

// HistoryCache is satisfied by *cache.History, including a nil one. Set takes
// the generation returned by the Get that missed; an Invalidate in between
// makes that Set unreachable.
type HistoryCache interface {
	Get(ctx context.Context, conversationID int64) (msgs []store.Message, gen int64, ok bool)
	Set(ctx context.Context, conversationID, gen int64, msgs []store.Message)
	Invalidate(ctx context.Context, conversationID int64)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Options struct {
	Port       int
	SpeechMode string
	// StaticPrefix and StaticDir mount a file server for synthesized audio
	// when both are set.
	StaticPrefix string
	StaticDir    string
	// MaxUploadBytes caps a message request body. Zero means 32 MiB.
	MaxUploadBytes int64
}

// Deps are the collaborators behind the handlers. Cache and Publisher may be
// nil.
type Deps struct {
	Store      Store
	Pipeline   Processor
	Summarizer Summarizer
	Cache      HistoryCache
	Publisher  Publisher
	Logger     *slog.Logger
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	opts   Options
	Deps
}

func NewServer(opts Options, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}))

	s := &Server{
		router: router,
		opts:   opts,
		Deps:   deps,
	}

	router.Get("/", s.root)
	router.Get("/health", s.health)

	router.Route("/api", func(r chi.Router) {
		r.Post("/conversations", s.createConversation)
		r.Get("/conversations", s.listConversations)
		r.Patch("/conversations/{id}", s.renameConversation)
		r.Delete("/conversations/{id}", s.deleteConversation)
		r.Get("/conversations/{id}/history", s.history)
		r.Post("/conversations/{id}/messages", s.addMessage)
		r.Post("/conversations/{id}/summarize", s.summarize)
		r.Get("/search", s.search)
		r.Post("/messages/{id}/regenerate", s.regenerate)
	})

	if opts.StaticPrefix != "" && opts.StaticDir != "" {
		prefix := "/" + strings.Trim(opts.StaticPrefix, "/")
		fs := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(opts.StaticDir)))
		router.Handle(prefix+"/*", fs)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.Logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "medbridge backend API is running"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"mode":   s.opts.SpeechMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.Logger.Error(msg, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) publish(subject string, data any) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(subject, data); err != nil {
		s.Logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
