// Package gateway talks to an OpenRouter-style chat-completions endpoint.
//
// The gateway makes a single attempt per call. Failures come back as errors
// (ErrMissingCredential or *UpstreamError); callers decide how to degrade.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	requestTimeout = 60 * time.Second
)

// ErrMissingCredential is returned without contacting the endpoint when no
// API key is configured.
var ErrMissingCredential = errors.New("api key missing")

// UpstreamError wraps any transport, status or payload failure from the endpoint.
type UpstreamError struct {
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// SoftText renders a gateway error as the visible text shown in place of a
// model reply.
func SoftText(err error) string {
	if errors.Is(err, ErrMissingCredential) {
		return "ERROR: API Key Missing"
	}
	return "Error: " + err.Error()
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Referer string // sent as HTTP-Referer
	Title   string // sent as X-Title
}

type Client struct {
	api    *openai.Client
	apiKey string
	model  string
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	if oc.BaseURL == "" {
		oc.BaseURL = DefaultBaseURL
	}
	oc.HTTPClient = &http.Client{
		Timeout: requestTimeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": cfg.Referer,
				"X-Title":      cfg.Title,
			},
		},
	}

	return &Client{
		api:    openai.NewClientWithConfig(oc),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends the turns and returns the first choice's content verbatim.
// format may be empty to let the model answer freely.
func (c *Client) Complete(ctx context.Context, turns []Turn, format ResponseFormat) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(turns)),
	}
	for _, t := range turns {
		req.Messages = append(req.Messages, t.toOpenAI())
	}
	if format != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatType(format),
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		upErr := &UpstreamError{StatusCode: statusCode(err), Err: fmt.Errorf("chat completion: %w", err)}
		c.logger.Error("openrouter request failed", "model", c.model, "status", upErr.StatusCode, "error", err)
		return "", upErr
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("openrouter returned no choices", "model", c.model)
		return "", &UpstreamError{StatusCode: http.StatusOK, Err: errors.New("empty completion: no choices")}
	}

	c.logger.Debug("openrouter completion",
		"model", c.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// headerTransport adds the identification headers OpenRouter uses for
// attribution.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
