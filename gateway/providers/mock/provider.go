// Package mock implements a deterministic, offline generation backend.
// Tenants use it as a zero-cost fallback at the bottom of their
// priority order, and integration environments use it as their only
// backend.
package mock

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/typeflow/gateway"
)

// Type is the registry tag for this backend.
const Type = "mock"

const defaultModel = "mock-v1"

// styleLabels label the candidates when the request carries no style
// prompt of its own.
var styleLabels = []string{"neutral", "friendly", "concise", "playful", "formal"}

// templates produce distinct candidate texts for one prompt. The
// output is a pure function of the request, so cache idempotence tests
// can assert byte equality.
var templates = []string{
	"%s",
	"Sure — %s",
	"Here's a thought: %s",
	"How about: %s",
	"%s (rephrased)",
}

// Provider is the mock backend.
type Provider struct {
	cfg    gateway.ProviderConfig
	logger *zap.Logger
}

// New validates the config and builds the provider. The mock backend
// has no credentials; only the type tag is checked.
func New(cfg gateway.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.Type != Type {
		return nil, fmt.Errorf("mock: unexpected provider type %q", cfg.Type)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		logger: logger.With(zap.String("provider", Type)),
	}, nil
}

// Type implements gateway.Provider.
func (p *Provider) Type() string { return Type }

// Model implements gateway.Provider.
func (p *Provider) Model() string { return p.cfg.Model }

// Available implements gateway.Provider.
func (p *Provider) Available() bool { return p.cfg.Enabled }

// AttemptTimeout implements gateway.Provider.
func (p *Provider) AttemptTimeout() time.Duration { return p.cfg.AttemptTimeout() }

// RetryCount implements gateway.Provider.
func (p *Provider) RetryCount() int { return p.cfg.RetryCount }

// Generate implements gateway.Provider. Replies are derived from the
// prompt text alone; no outbound call happens.
func (p *Provider) Generate(_ context.Context, req *gateway.GenerateRequest) (*gateway.GenerateResponse, error) {
	if !p.Available() {
		return nil, &gateway.Error{
			Code:     gateway.ErrProviderUnavailable,
			Message:  "mock provider is disabled",
			Provider: Type,
		}
	}
	start := time.Now()
	norm := req.Normalized()

	replies := make([]gateway.Reply, 0, norm.CandidateCount)
	tokens := 0
	for i := 0; i < norm.CandidateCount; i++ {
		content := fmt.Sprintf(templates[i%len(templates)], norm.Text)
		style := norm.StylePrompt
		if style == "" {
			style = styleLabels[i%len(styleLabels)]
		}
		replies = append(replies, gateway.Reply{
			ID:      uuid.NewString(),
			Content: content,
			Style:   style,
		})
		tokens += estimateTokens(content)
	}

	return &gateway.GenerateResponse{
		Replies: replies,
		Provider: gateway.ProviderInfo{
			Type:             Type,
			Model:            p.cfg.Model,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			TokensUsed:       estimateTokens(norm.Text) + tokens,
		},
		Metadata: map[string]string{"simulated": "true"},
	}, nil
}

// estimateTokens approximates token usage from character counts,
// weighting CJK runes heavier than ASCII.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var ascii, other int
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			other++
		}
	}
	est := int(math.Ceil(float64(ascii)/4 + float64(other)/1.5))
	if est < 1 {
		est = 1
	}
	return est
}
