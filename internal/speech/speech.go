// Package speech turns translated text into an audio reference the client
// can play: an inline data URI or a URL under the static file route.
//
// Synthesis failures never reach the caller. They are logged and the
// reference is empty, so a message is still stored without audio.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	ModeInline = "inline"
	ModeFile   = "file"
)

// Backend streams synthesized audio for text spoken by voice into w.
type Backend interface {
	Synthesize(ctx context.Context, text, voice string, w io.Writer) error
	ContentType() string
	Extension() string
}

type Config struct {
	Mode      string
	AudioDir  string
	URLPrefix string
	Voices    []Voice
}

type Synthesizer struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
}

func New(backend Backend, cfg Config, logger *slog.Logger) *Synthesizer {
	if cfg.Mode == "" {
		cfg.Mode = ModeFile
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = DefaultVoices
	}
	return &Synthesizer{backend: backend, cfg: cfg, logger: logger}
}

func (s *Synthesizer) Mode() string { return s.cfg.Mode }

// Synthesize returns an audio reference for text in language, or "" when text
// is empty or synthesis failed.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) string {
	if text == "" {
		return ""
	}
	voice := SelectVoice(s.cfg.Voices, language)

	var (
		ref string
		err error
	)
	if s.cfg.Mode == ModeInline {
		ref, err = s.inline(ctx, text, voice)
	} else {
		ref, err = s.toFile(ctx, text, voice)
	}
	if err != nil {
		s.logger.Warn("speech synthesis failed", "voice", voice, "language", language, "error", err)
		return ""
	}
	s.logger.Debug("speech synthesized", "voice", voice, "mode", s.cfg.Mode)
	return ref
}

func (s *Synthesizer) inline(ctx context.Context, text, voice string) (string, error) {
	var buf bytes.Buffer
	if err := s.backend.Synthesize(ctx, text, voice, &buf); err != nil {
		return "", err
	}
	return "data:" + s.backend.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Synthesizer) toFile(ctx context.Context, text, voice string) (string, error) {
	if err := os.MkdirAll(s.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	name := uuid.NewString() + s.backend.Extension()
	full := filepath.Join(s.cfg.AudioDir, name)

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if err := s.backend.Synthesize(ctx, text, voice, f); err != nil {
		f.Close()
		os.Remove(full)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("close audio file: %w", err)
	}
	return path.Join(s.cfg.URLPrefix, name), nil
}

// Discard removes the file behind a reference returned by Synthesize. Inline
// references and references outside the URL prefix are ignored.
func (s *Synthesizer) Discard(ref string) {
	if s.cfg.Mode != ModeFile || ref == "" {
		return
	}
	prefix := strings.TrimSuffix(s.cfg.URLPrefix, "/") + "/"
	if !strings.HasPrefix(ref, prefix) {
		return
	}
	name := path.Base(ref)
	if name == "." || name == "/" || name == ".." {
		return
	}
	if err := os.Remove(filepath.Join(s.cfg.AudioDir, name)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("discard audio failed", "ref", ref, "error", err)
	}
}
