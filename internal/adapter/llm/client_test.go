package llm

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

// wordCounter counts one token per whitespace-separated word.
type wordCounter struct{}

func (wordCounter) CountText(text string) int { return len(strings.Fields(text)) }

func (w wordCounter) CountMessages(msgs []domain.Message) int {
	n := 0
	for _, m := range msgs {
		n += w.CountText(m.Content)
	}
	return n
}

func testLLMConfig() config.LLMConfig {
	cfg := config.Defaults().LLM
	cfg.ContextWindow = 120
	cfg.MaxResponseTokens = 20
	return cfg
}

func TestClientStreamingCallRequest(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockStreamProvider{
		mockProvider: mockProvider{name: "stream"},
		streamFunc: func(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			got = req
			return streamOf(domain.StreamDelta{Content: "Okay.", Done: true}), nil
		},
	}
	c := NewClient(provider, wordCounter{}, testLLMConfig(), slog.Default())

	ch, err := c.StreamingCall(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "Okay.", (<-ch).Content)
	assert.Equal(t, 20, got.MaxTokens)
	assert.Equal(t, []string{"#"}, got.Stop)
	assert.Equal(t, "google/gemma-2-9b-it:free", got.Model)

	_, err = c.StreamingCall(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 40, got.MaxTokens, "multi-NPC replies get a wider budget")
}

func TestClientStreamingCallError(t *testing.T) {
	provider := &mockStreamProvider{
		mockProvider: mockProvider{name: "down"},
		streamFunc: func(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
			return nil, domain.ErrTransport
		},
	}
	c := NewClient(provider, wordCounter{}, testLLMConfig(), slog.Default())

	_, err := c.StreamingCall(context.Background(), nil, false)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestClientRequestCall(t *testing.T) {
	content := "  The player asked about the dragon.  "
	provider := &mockStreamProvider{
		mockProvider: mockProvider{
			name: "chat",
			chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
				return &domain.ChatResponse{Message: domain.Message{Content: content}}, nil
			},
		},
	}
	c := NewClient(provider, wordCounter{}, testLLMConfig(), slog.Default())

	text, err := c.RequestCall(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "Summarize"}})
	require.NoError(t, err)
	assert.Equal(t, "The player asked about the dragon.", text)

	content = "   "
	_, err = c.RequestCall(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestClientTokenBudget(t *testing.T) {
	c := NewClient(&mockStreamProvider{}, wordCounter{}, testLLMConfig(), slog.Default())

	assert.Equal(t, 100, c.TokensAvailable())
	assert.Equal(t, 3, c.CountTokens("one two three"))

	// 0.45 * 100 = 45 tokens.
	short := strings.Repeat("word ", 45)
	long := strings.Repeat("word ", 46)
	assert.False(t, c.IsTextTooLong(short, 0.45))
	assert.True(t, c.IsTextTooLong(long, 0.45))
	assert.False(t, c.IsTooLong([]domain.Message{{Content: short}}, 0.45))
	assert.True(t, c.IsTooLong([]domain.Message{{Content: short}, {Content: "extra"}}, 0.45))
}

func TestClientTokensAvailableNeverNegative(t *testing.T) {
	cfg := testLLMConfig()
	cfg.MaxResponseTokens = cfg.ContextWindow + 1
	c := NewClient(&mockStreamProvider{}, wordCounter{}, cfg, slog.Default())
	assert.Equal(t, 0, c.TokensAvailable())
}

func TestFunctionClientChooseFunction(t *testing.T) {
	var got domain.ChatRequest
	provider := &mockProvider{
		name: "fn",
		chatFunc: func(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
			got = req
			return &domain.ChatResponse{Message: domain.Message{ToolCalls: []domain.ToolCall{{Name: "npc_follow"}}}}, nil
		},
	}
	cfg := config.FunctionLLMConfig{Provider: config.ProviderConfig{Model: "small"}, Timeout: time.Second}
	f := NewFunctionClient(provider, cfg, slog.Default())

	tools := []domain.ToolSchema{{Name: "npc_follow"}}
	resp, err := f.ChooseFunction(context.Background(), nil, tools)
	require.NoError(t, err)
	assert.Equal(t, "npc_follow", resp.Message.ToolCalls[0].Name)
	assert.Equal(t, "small", got.Model)
	assert.Equal(t, tools, got.Tools)
}

func TestFunctionClientTimeout(t *testing.T) {
	provider := &mockProvider{
		name: "slow",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := NewFunctionClient(provider, config.FunctionLLMConfig{Timeout: 20 * time.Millisecond}, slog.Default())

	_, err := f.ChooseFunction(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrFunctionInferenceTimeout)
}

func TestFunctionClientCallerCancellation(t *testing.T) {
	provider := &mockProvider{
		name: "slow",
		chatFunc: func(ctx context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := NewFunctionClient(provider, config.FunctionLLMConfig{Timeout: time.Minute}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ChooseFunction(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrFunctionInferenceTimeout)
}
