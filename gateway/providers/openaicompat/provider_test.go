package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/typeflow/gateway"
)

func testConfig(baseURL string) gateway.ProviderConfig {
	return gateway.ProviderConfig{
		Type:    Type,
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "test-model",
		Enabled: true,
	}
}

func completionsBody(id string, n int) string {
	choices := make([]string, 0, n)
	for i := 0; i < n; i++ {
		choices = append(choices, fmt.Sprintf(
			`{"index":%d,"message":{"role":"assistant","content":"reply %d"},"finish_reason":"stop"}`, i, i))
	}
	body := fmt.Sprintf(`{"id":%q,"model":"test-model","choices":[`, id)
	for i, c := range choices {
		if i > 0 {
			body += ","
		}
		body += c
	}
	body += `],"usage":{"prompt_tokens":5,"completion_tokens":9,"total_tokens":14}}`
	return body
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(gateway.ProviderConfig{Type: Type, Enabled: true}, nil)
	assert.Error(t, err)

	_, err = New(gateway.ProviderConfig{Type: Type, APIKey: "  ", Enabled: true}, nil)
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(gateway.ProviderConfig{Type: Type, APIKey: "k", Enabled: true}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Type, p.Type())
	assert.Equal(t, defaultModel, p.Model())
	assert.True(t, p.Available())
}

func TestGenerate_Success(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, completionsPath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionsBody("chatcmpl-1", 2))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), &gateway.GenerateRequest{
		Text:           "hello",
		StylePrompt:    "be formal",
		TenantID:       "t1",
		CandidateCount: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotReq.Model)
	assert.Equal(t, 2, gotReq.N)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be formal", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "hello", gotReq.Messages[1].Content)
	require.NotNil(t, gotReq.Temperature)
	assert.InDelta(t, gateway.DefaultTemp, *gotReq.Temperature, 0.001)
	assert.Equal(t, gateway.DefaultMaxTokens, gotReq.MaxTokens)

	require.Len(t, resp.Replies, 2)
	assert.Equal(t, "chatcmpl-1-0", resp.Replies[0].ID)
	assert.Equal(t, "reply 0", resp.Replies[0].Content)
	assert.Equal(t, "be formal", resp.Replies[0].Style)
	assert.Equal(t, Type, resp.Provider.Type)
	assert.Equal(t, "test-model", resp.Provider.Model)
	assert.Equal(t, 14, resp.Provider.TokensUsed)
}

func TestGenerate_NoStylePromptSendsUserOnly(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, completionsBody("chatcmpl-2", 1))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestGenerate_ExplicitZeroTemperatureOnWire(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, completionsBody("chatcmpl-4", 1))
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{
		Text:        "hi",
		TenantID:    "t1",
		Temperature: gateway.Float32(0),
	})
	require.NoError(t, err)

	require.NotNil(t, gotReq.Temperature, "temperature 0 must be serialized, not dropped by omitempty")
	assert.Zero(t, *gotReq.Temperature)
}

func TestGenerate_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		wantCode  gateway.ErrorCode
		wantRetry bool
		wantMsg   string
	}{
		{
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"bad key","type":"invalid_request_error"}}`,
			wantCode: gateway.ErrUnauthorized,
			wantMsg:  "bad key (type: invalid_request_error)",
		},
		{
			status:    http.StatusTooManyRequests,
			body:      `{"error":{"message":"slow down"}}`,
			wantCode:  gateway.ErrUpstreamRateLimited,
			wantRetry: true,
			wantMsg:   "slow down",
		},
		{
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"bad request"}}`,
			wantCode: gateway.ErrUpstreamError,
			wantMsg:  "bad request",
		},
		{
			status:    http.StatusInternalServerError,
			body:      "upstream exploded",
			wantCode:  gateway.ErrUpstreamError,
			wantRetry: true,
			wantMsg:   "upstream exploded",
		},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p, err := New(testConfig(srv.URL), nil)
			require.NoError(t, err)
			_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
			ge, ok := gateway.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, ge.Code)
			assert.Equal(t, tt.status, ge.HTTPStatus)
			assert.Equal(t, tt.wantRetry, ge.Retryable)
			assert.Equal(t, tt.wantMsg, ge.Message)
		})
	}
}

func TestGenerate_InvalidJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "{not json")
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	ge, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.ErrUpstreamError, ge.Code)
	assert.True(t, ge.Retryable)
}

func TestGenerate_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"chatcmpl-3","choices":[]}`)
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	ge, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.ErrUpstreamError, ge.Code)
}

func TestGenerate_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	ge, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.ErrUpstreamTimeout, ge.Code)
	assert.True(t, ge.Retryable)
}

func TestGenerate_DisabledIsUnavailable(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Enabled = false
	p, err := New(cfg, nil)
	require.NoError(t, err)
	assert.False(t, p.Available())

	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	ge, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.ErrProviderUnavailable, ge.Code)
}

func TestReadErrorMessage_FallsBackToRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "  plain text outage  ")
	}))
	defer srv.Close()

	p, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), &gateway.GenerateRequest{Text: "hi", TenantID: "t1"})
	ge, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "plain text outage", ge.Message)
}
