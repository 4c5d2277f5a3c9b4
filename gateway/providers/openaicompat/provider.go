// Package openaicompat implements the OpenAI-compatible generation
// backend. It speaks the chat-completions dialect, so any vendor
// exposing that surface (OpenAI itself, Groq, OpenRouter, vLLM, ...)
// is reachable through a tenant config with the right base_url.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/typeflow/gateway"
)

// Type is the registry tag for this backend.
const Type = "openai"

const (
	defaultBaseURL  = "https://api.openai.com"
	defaultModel    = "gpt-4o-mini"
	completionsPath = "/v1/chat/completions"
)

// Provider is the OpenAI-compatible backend.
type Provider struct {
	cfg    gateway.ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// New validates the config and builds the provider. An API key is
// mandatory for this backend; base URL and model take defaults.
func New(cfg gateway.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api_key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg: cfg,
		// The orchestrator bounds each attempt through the context;
		// the client timeout is only a backstop for stray calls made
		// outside the failover loop.
		client: &http.Client{Timeout: cfg.AttemptTimeout()},
		logger: logger.With(zap.String("provider", Type)),
	}, nil
}

// Type implements gateway.Provider.
func (p *Provider) Type() string { return Type }

// Model implements gateway.Provider.
func (p *Provider) Model() string { return p.cfg.Model }

// Available implements gateway.Provider. Cheap by contract: config
// checks only, no network I/O.
func (p *Provider) Available() bool {
	return p.cfg.Enabled && strings.TrimSpace(p.cfg.APIKey) != ""
}

// AttemptTimeout implements gateway.Provider.
func (p *Provider) AttemptTimeout() time.Duration { return p.cfg.AttemptTimeout() }

// RetryCount implements gateway.Provider.
func (p *Provider) RetryCount() int { return p.cfg.RetryCount }

// Wire types for the chat-completions dialect.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	// Temperature is a pointer so an explicit 0 (greedy sampling) is
	// serialized rather than dropped by omitempty.
	Temperature *float32 `json:"temperature,omitempty"`
	N           int      `json:"n,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Generate implements gateway.Provider.
func (p *Provider) Generate(ctx context.Context, req *gateway.GenerateRequest) (*gateway.GenerateResponse, error) {
	if !p.Available() {
		return nil, &gateway.Error{
			Code:     gateway.ErrProviderUnavailable,
			Message:  "openai provider is disabled or missing credentials",
			Provider: Type,
		}
	}
	start := time.Now()
	norm := req.Normalized()

	messages := make([]chatMessage, 0, 2)
	if norm.StylePrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: norm.StylePrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: norm.Text})

	payload, err := json.Marshal(chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   norm.MaxTokens,
		Temperature: norm.Temperature,
		N:           norm.CandidateCount,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + completionsPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &gateway.Error{
				Code:      gateway.ErrUpstreamTimeout,
				Message:   "openai request timed out",
				Retryable: true,
				Provider:  Type,
			}
		}
		return nil, &gateway.Error{
			Code:       gateway.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   Type,
		}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, mapHTTPError(httpResp.StatusCode, readErrorMessage(httpResp.Body))
	}

	var oa chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oa); err != nil {
		return nil, &gateway.Error{
			Code:       gateway.ErrUpstreamError,
			Message:    fmt.Sprintf("decoding upstream response: %v", err),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   Type,
		}
	}
	if len(oa.Choices) == 0 {
		return nil, &gateway.Error{
			Code:       gateway.ErrUpstreamError,
			Message:    "upstream returned no choices",
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   Type,
		}
	}

	replies := make([]gateway.Reply, 0, len(oa.Choices))
	for i, choice := range oa.Choices {
		replies = append(replies, gateway.Reply{
			ID:      fmt.Sprintf("%s-%d", oa.ID, i),
			Content: choice.Message.Content,
			Style:   norm.StylePrompt,
		})
	}

	model := oa.Model
	if model == "" {
		model = p.cfg.Model
	}
	info := gateway.ProviderInfo{
		Type:             Type,
		Model:            model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if oa.Usage != nil {
		info.TokensUsed = oa.Usage.TotalTokens
	}

	return &gateway.GenerateResponse{Replies: replies, Provider: info}, nil
}

// mapHTTPError maps an upstream status to a gateway error with the
// right retryability.
func mapHTTPError(status int, msg string) *gateway.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gateway.Error{Code: gateway.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: Type}
	case status == http.StatusTooManyRequests:
		return &gateway.Error{Code: gateway.ErrUpstreamRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: Type}
	case status == http.StatusBadRequest:
		return &gateway.Error{Code: gateway.ErrUpstreamError, Message: msg, HTTPStatus: status, Provider: Type}
	default:
		return &gateway.Error{Code: gateway.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: Type}
	}
}

// readErrorMessage extracts the error text from an upstream failure
// body, falling back to the raw payload.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
