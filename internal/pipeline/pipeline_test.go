package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/MikeSquared-Agency/medbridge/internal/agent"
	"github.com/MikeSquared-Agency/medbridge/internal/extractor"
	"github.com/MikeSquared-Agency/medbridge/internal/gateway"
	"github.com/MikeSquared-Agency/medbridge/internal/hermes"
	"github.com/MikeSquared-Agency/medbridge/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM answers transcribe and translate prompts from a queue.
type fakeLLM struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeLLM) Complete(_ context.Context, _ []gateway.Turn, _ gateway.ResponseFormat) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type fakeSpeaker struct {
	ref       string
	calls     []string
	discarded []string
}

func (f *fakeSpeaker) Synthesize(_ context.Context, text, language string) string {
	f.calls = append(f.calls, text+"|"+language)
	if text == "" {
		return ""
	}
	return f.ref
}

func (f *fakeSpeaker) Discard(ref string) {
	f.discarded = append(f.discarded, ref)
}

type fakeStore struct {
	messages  map[int64]*store.Message
	nextID    int64
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[int64]*store.Message{}, nextID: 1}
}

func (f *fakeStore) CreateMessage(_ context.Context, m *store.Message) error {
	if f.createErr != nil {
		return f.createErr
	}
	m.ID = f.nextID
	f.nextID++
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id int64) (*store.Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("get message %d: %w", id, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) UpdateMessageTranslation(_ context.Context, m *store.Message) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.messages[m.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *m
	f.messages[m.ID] = &cp
	return nil
}

type fakePublisher struct {
	subjects []string
	events   []any
	err      error
}

func (f *fakePublisher) Publish(subject string, data any) error {
	f.subjects = append(f.subjects, subject)
	f.events = append(f.events, data)
	return f.err
}

type fixture struct {
	llm       *fakeLLM
	speaker   *fakeSpeaker
	store     *fakeStore
	publisher *fakePublisher
	pipeline  *Pipeline
}

func newFixture(replies ...string) *fixture {
	f := &fixture{
		llm:       &fakeLLM{replies: replies},
		speaker:   &fakeSpeaker{ref: "/static/audio/x.wav"},
		store:     newFakeStore(),
		publisher: &fakePublisher{},
	}
	caps := agent.New(f.llm, discardLogger())
	f.pipeline = New(caps, f.speaker, f.store, f.publisher, discardLogger())
	return f
}

func TestProcess_Text(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello, doctor","detected_language":"Spanish"}`)

	msg, err := f.pipeline.Process(context.Background(), Input{
		ConversationID: 3,
		Role:           "patient",
		Text:           "Hola, doctor",
		TargetLanguage: "English",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.OriginalText != "Hola, doctor" || msg.TranslatedText != "Hello, doctor" || msg.Language != "Spanish" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.ConversationID != 3 || msg.Role != "patient" {
		t.Errorf("expected conversation and role to carry through, got %+v", msg)
	}
	if msg.AudioURL != "/static/audio/x.wav" {
		t.Errorf("expected audio reference, got %q", msg.AudioURL)
	}
	if msg.ID == 0 {
		t.Error("expected stored message id")
	}
	if len(f.speaker.calls) != 1 || f.speaker.calls[0] != "Hello, doctor|English" {
		t.Errorf("expected synthesis of translated text in target language, got %v", f.speaker.calls)
	}
	if f.llm.calls != 1 {
		t.Errorf("expected a single translate call, got %d", f.llm.calls)
	}
}

func TestProcess_AudioIsTranscribed(t *testing.T) {
	f := newFixture(
		"Me duele la cabeza",
		`{"translated_text":"My head hurts","detected_language":"Spanish"}`,
	)

	msg, err := f.pipeline.Process(context.Background(), Input{
		ConversationID: 1,
		Role:           "patient",
		Text:           "ignored when audio is present",
		Audio:          []byte{0x1a, 0x45, 0xdf, 0xa3},
		TargetLanguage: "English",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.OriginalText != "Me duele la cabeza" {
		t.Errorf("expected transcription as original text, got %q", msg.OriginalText)
	}
	if msg.TranslatedText != "My head hurts" {
		t.Errorf("unexpected translation %q", msg.TranslatedText)
	}
	if f.llm.calls != 2 {
		t.Errorf("expected transcribe + translate calls, got %d", f.llm.calls)
	}
}

func TestProcess_UnparsableTranslation(t *testing.T) {
	f := newFixture("I'm sorry, I can only respond in JSON {")

	msg, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "doctor", Text: "Take two tablets daily"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TranslatedText != "Take two tablets daily" || msg.Language != extractor.UnknownLanguage {
		t.Errorf("expected identity fallback, got %+v", msg)
	}
}

func TestProcess_NoInput(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "doctor"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.llm.calls != 0 {
		t.Errorf("expected no gateway calls, got %d", f.llm.calls)
	}
	if len(f.speaker.calls) != 0 {
		t.Errorf("expected no synthesis calls, got %d", len(f.speaker.calls))
	}
	if len(f.store.messages) != 0 {
		t.Errorf("expected nothing stored, got %d", len(f.store.messages))
	}
}

func TestProcess_EmptyTranscription(t *testing.T) {
	f := newFixture("")

	_, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Audio: []byte{1}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(f.speaker.calls) != 0 {
		t.Errorf("expected no synthesis calls, got %d", len(f.speaker.calls))
	}
}

func TestProcess_GatewayDownStillStores(t *testing.T) {
	f := newFixture()
	f.llm.err = gateway.ErrMissingCredential

	msg, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Audio: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The transcription sentinel is stored as the message text.
	if msg.OriginalText != "ERROR: API Key Missing" || msg.TranslatedText != "ERROR: API Key Missing" {
		t.Errorf("expected sentinel text to flow through, got %+v", msg)
	}
	if msg.Language != extractor.UnknownLanguage {
		t.Errorf("expected unknown language, got %q", msg.Language)
	}
}

func TestProcess_DefaultTargetLanguage(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello","detected_language":"French"}`)

	if _, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Bonjour"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.speaker.calls[0] != "Hello|English" {
		t.Errorf("expected English target by default, got %v", f.speaker.calls)
	}
}

func TestProcess_NoAudioWhenSynthesisFails(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello","detected_language":"French"}`)
	f.speaker.ref = ""

	msg, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Bonjour"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.AudioURL != "" {
		t.Errorf("expected no audio reference, got %q", msg.AudioURL)
	}
	evt := f.publisher.events[0].(hermes.MessageEvent)
	if evt.HasAudio {
		t.Error("expected has_audio false")
	}
}

func TestProcess_StoreFailure(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello","detected_language":"French"}`)
	f.store.createErr = errors.New("connection refused")

	if _, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Bonjour"}); err == nil {
		t.Fatal("expected store error")
	}
	if len(f.publisher.subjects) != 0 {
		t.Errorf("expected no event for unstored message, got %v", f.publisher.subjects)
	}
	if len(f.speaker.discarded) != 1 || f.speaker.discarded[0] != "/static/audio/x.wav" {
		t.Errorf("expected synthesized audio to be discarded, got %v", f.speaker.discarded)
	}
}

func TestProcess_LongDetectedLanguage(t *testing.T) {
	lang := "Spanish (Latin American, possibly Mexican dialect, with some English loanwords mixed into the patient's description of symptoms)"
	f := newFixture(`{"translated_text":"My stomach hurts","detected_language":"` + lang + `"}`)

	msg, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Me duele el estómago"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Language != lang || f.store.messages[msg.ID].Language != lang {
		t.Errorf("expected full detected language to be stored, got %q", msg.Language)
	}
	if len(f.speaker.discarded) != 0 {
		t.Errorf("expected stored audio to be kept, got discarded %v", f.speaker.discarded)
	}
}

func TestProcess_PublishesCreated(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello","detected_language":"French"}`)

	msg, err := f.pipeline.Process(context.Background(), Input{ConversationID: 9, Role: "patient", Text: "Bonjour", TargetLanguage: "English"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.publisher.subjects) != 1 || f.publisher.subjects[0] != hermes.SubjectMessageCreated {
		t.Fatalf("expected created event, got %v", f.publisher.subjects)
	}
	evt := f.publisher.events[0].(hermes.MessageEvent)
	if evt.MessageID != msg.ID || evt.ConversationID != 9 || evt.Language != "French" || evt.TargetLanguage != "English" || !evt.HasAudio {
		t.Errorf("unexpected event %+v", evt)
	}
}

func TestProcess_PublishFailureIsAbsorbed(t *testing.T) {
	f := newFixture(`{"translated_text":"Hello","detected_language":"French"}`)
	f.publisher.err = errors.New("nats: connection closed")

	if _, err := f.pipeline.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Bonjour"}); err != nil {
		t.Fatalf("expected publish failure to be absorbed, got %v", err)
	}
}

func TestProcess_NilPublisher(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"translated_text":"Hello","detected_language":"French"}`}}
	p := New(agent.New(llm, discardLogger()), &fakeSpeaker{}, newFakeStore(), nil, discardLogger())

	if _, err := p.Process(context.Background(), Input{ConversationID: 1, Role: "patient", Text: "Bonjour"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegenerate(t *testing.T) {
	f := newFixture(`{"translated_text":"Me duele la cabeza","detected_language":"English"}`)
	f.store.messages[5] = &store.Message{
		ID:             5,
		ConversationID: 2,
		Role:           "patient",
		OriginalText:   "My head hurts",
		TranslatedText: "My head hurts",
		Language:       "English",
	}

	msg, err := f.pipeline.Regenerate(context.Background(), 5, "Spanish")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TranslatedText != "Me duele la cabeza" {
		t.Errorf("unexpected translation %q", msg.TranslatedText)
	}
	if msg.Language != "Spanish" {
		t.Errorf("expected language set to target, got %q", msg.Language)
	}
	if msg.OriginalText != "My head hurts" {
		t.Errorf("expected original text untouched, got %q", msg.OriginalText)
	}

	stored := f.store.messages[5]
	if stored.TranslatedText != "Me duele la cabeza" || stored.AudioURL != "/static/audio/x.wav" || stored.Language != "Spanish" {
		t.Errorf("expected stored message to be overwritten, got %+v", stored)
	}
	if f.speaker.calls[0] != "Me duele la cabeza|Spanish" {
		t.Errorf("unexpected synthesis call %v", f.speaker.calls)
	}
	if len(f.publisher.subjects) != 1 || f.publisher.subjects[0] != hermes.SubjectMessageRegenerated {
		t.Errorf("expected regenerated event, got %v", f.publisher.subjects)
	}
}

func TestRegenerate_StoreFailureDiscardsAudio(t *testing.T) {
	f := newFixture(`{"translated_text":"J'ai mal","detected_language":"English"}`)
	f.store.messages[5] = &store.Message{ID: 5, ConversationID: 2, Role: "patient", OriginalText: "It hurts", Language: "English"}
	f.store.updateErr = errors.New("connection refused")

	if _, err := f.pipeline.Regenerate(context.Background(), 5, "French"); err == nil {
		t.Fatal("expected update error")
	}
	if len(f.speaker.discarded) != 1 || f.speaker.discarded[0] != "/static/audio/x.wav" {
		t.Errorf("expected synthesized audio to be discarded, got %v", f.speaker.discarded)
	}
	if len(f.publisher.subjects) != 0 {
		t.Errorf("expected no event, got %v", f.publisher.subjects)
	}
}

func TestRegenerate_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.Regenerate(context.Background(), 404, "Spanish")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.llm.calls != 0 {
		t.Errorf("expected no gateway calls, got %d", f.llm.calls)
	}
}

func TestRegenerate_EmptyTarget(t *testing.T) {
	f := newFixture()

	if _, err := f.pipeline.Regenerate(context.Background(), 1, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
