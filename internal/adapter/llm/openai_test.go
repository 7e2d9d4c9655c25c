package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "local",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemma-2-9b",
	}, slog.Default())
}

func TestOpenAIProviderChat(t *testing.T) {
	var got openaiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(openaiResponse{
			ID:    "chatcmpl-1",
			Model: "gemma-2-9b",
			Choices: []openaiChoice{{
				Message: openaiMessage{Role: "assistant", Content: "Lydia met the player in Whiterun."},
			}},
			Usage: openaiUsage{PromptTokens: 40, CompletionTokens: 9, TotalTokens: 49},
		})
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "Summarize."}},
		MaxTokens:   250,
		Temperature: 0.7,
		TopP:        0.9,
		Stop:        []string{"#"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Lydia met the player in Whiterun.", resp.Message.Content)
	assert.Equal(t, 49, resp.Usage.TotalTokens)
	assert.Equal(t, "gemma-2-9b", got.Model, "default model is filled in")
	assert.Equal(t, 250, got.MaxTokens)
	assert.Equal(t, []string{"#"}, got.Stop)
	require.NotNil(t, got.TopP)
	assert.InDelta(t, 0.9, *got.TopP, 1e-9)
	assert.False(t, got.Stream)
}

func TestOpenAIProviderChatToolCalls(t *testing.T) {
	var got openaiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"npc_follow","arguments":"{\"target\":[\"0x1A2B\"]}"}}]}}]}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Follow me."}},
		Tools:    []domain.ToolSchema{{Name: "npc_follow", Description: "Follow", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "npc_follow", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"target":["0x1A2B"]}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestOpenAIProviderChatInBandError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model is overloaded","code":502}}`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	assert.ErrorIs(t, err, domain.ErrProviderError)
	assert.Contains(t, err.Error(), "model is overloaded")
}

func TestOpenAIProviderHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusServiceUnavailable, domain.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":"nope"}`)
			})

			_, err := p.Chat(context.Background(), domain.ChatRequest{})
			assert.ErrorIs(t, err, tt.want)

			_, err = p.ChatStream(context.Background(), domain.ChatRequest{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProviderInvalidJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestOpenAIProviderChatStream(t *testing.T) {
	var got openaiRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Guard: ", "Watch ", "out!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", c)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)

	var text strings.Builder
	var done bool
	for d := range ch {
		require.NoError(t, d.Err)
		text.WriteString(d.Content)
		done = done || d.Done
	}
	assert.True(t, got.Stream)
	assert.True(t, done)
	assert.Equal(t, "Guard: Watch out!", text.String())
}

func TestOpenAIProviderNoAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.ProviderConfig{BaseURL: server.URL + "/", Model: "local"}, slog.Default())
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenRouterAttributionHeaders(t *testing.T) {
	var headers http.Header
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openrouter", BaseURL: "https://openrouter.ai/api/v1"}, slog.Default())
	p.client.Transport = &openrouterTransport{base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		headers = r.Header
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"choices":[]}`)),
			Header:     make(http.Header),
		}, nil
	})}

	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "npc-voice", headers.Get("X-Title"))
	assert.NotEmpty(t, headers.Get("HTTP-Referer"))

	_, wrapped := NewOpenAIProvider(config.ProviderConfig{Name: "openrouter"}, slog.Default()).client.Transport.(*openrouterTransport)
	assert.True(t, wrapped)
	_, wrapped = NewOpenAIProvider(config.ProviderConfig{Name: "local", BaseURL: "http://127.0.0.1:5001/v1"}, slog.Default()).client.Transport.(*openrouterTransport)
	assert.False(t, wrapped)
}

func TestOpenAIProviderContextCancelled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, domain.ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, domain.ErrTransport))
}

func TestToOpenAIRequestOmitsZeroSampling(t *testing.T) {
	req := toOpenAIRequest(domain.ChatRequest{Model: "m"})
	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.TopP)
	assert.Zero(t, req.MaxTokens)
	assert.Empty(t, req.ToolChoice)
}
