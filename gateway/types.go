package gateway

import (
	"fmt"
	"unicode/utf8"
)

// Request bounds and defaults. Unset fields take the default (nil for
// temperature, zero for the integer knobs, whose valid range starts at
// 1); out-of-range values are rejected before any provider is touched.
const (
	MaxTextChars      = 8192
	MaxStyleChars     = 1024
	DefaultTemp       = 0.7
	MaxTemp           = 2.0
	DefaultMaxTokens  = 500
	MaxMaxTokens      = 2000
	DefaultCandidates = 1
	MaxCandidates     = 5
)

// Float32 returns a pointer to v, for the optional request fields.
func Float32(v float32) *float32 { return &v }

// GenerateRequest is the tenant-facing generation contract.
type GenerateRequest struct {
	Text        string `json:"text"`
	StylePrompt string `json:"style_prompt,omitempty"`
	// Temperature is nil when omitted. An explicit 0 selects greedy
	// sampling and is distinct from unset.
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	// CandidateCount is how many alternative replies to produce (1..5).
	CandidateCount int    `json:"candidate_count,omitempty"`
	TenantID       string `json:"tenant_id"`
	// RequesterID identifies the end user for logging only. It never
	// participates in cache identity.
	RequesterID string `json:"requester_id,omitempty"`
}

// Validate checks the request against the contract bounds. It does not
// mutate the request; call Normalized to obtain the defaulted copy.
func (r *GenerateRequest) Validate() error {
	if r.TenantID == "" {
		return &Error{Code: ErrInvalidRequest, Message: "tenant_id is required"}
	}
	if r.Text == "" {
		return &Error{Code: ErrInvalidRequest, Message: "text is required"}
	}
	if utf8.RuneCountInString(r.Text) > MaxTextChars {
		return &Error{Code: ErrInvalidRequest, Message: fmt.Sprintf("text exceeds %d characters", MaxTextChars)}
	}
	if utf8.RuneCountInString(r.StylePrompt) > MaxStyleChars {
		return &Error{Code: ErrInvalidRequest, Message: fmt.Sprintf("style_prompt exceeds %d characters", MaxStyleChars)}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > MaxTemp) {
		return &Error{Code: ErrInvalidRequest, Message: "temperature must be within [0, 2]"}
	}
	if r.MaxTokens < 0 || r.MaxTokens > MaxMaxTokens {
		return &Error{Code: ErrInvalidRequest, Message: fmt.Sprintf("max_tokens must be within [1, %d]", MaxMaxTokens)}
	}
	if r.CandidateCount < 0 || r.CandidateCount > MaxCandidates {
		return &Error{Code: ErrInvalidRequest, Message: fmt.Sprintf("candidate_count must be within [1, %d]", MaxCandidates)}
	}
	return nil
}

// Normalized returns a copy with defaults applied to unset sampling
// parameters. Providers receive the normalized form, and cache keys
// are derived from it so an explicit default and an omitted field hash
// identically.
func (r *GenerateRequest) Normalized() *GenerateRequest {
	out := *r
	if out.Temperature == nil {
		out.Temperature = Float32(DefaultTemp)
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.CandidateCount == 0 {
		out.CandidateCount = DefaultCandidates
	}
	return &out
}

// Reply is one generated candidate.
type Reply struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Style   string `json:"style,omitempty"`
}

// ProviderInfo records which backend served a response.
type ProviderInfo struct {
	Type             string `json:"type"`
	Model            string `json:"model"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	TokensUsed       int    `json:"tokens_used,omitempty"`
}

// GenerateResponse is created once per successful provider attempt and
// never mutated afterwards; cache hits share the stored value.
type GenerateResponse struct {
	Replies  []Reply           `json:"replies"`
	Provider ProviderInfo      `json:"provider"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
