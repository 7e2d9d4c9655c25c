package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/tracer"
)

// Compile-time interface assertions.
var (
	_ domain.ConversationLLM = (*Client)(nil)
	_ domain.FunctionLLM     = (*FunctionClient)(nil)
)

// multiNPCTokenFactor widens the reply budget for group conversations,
// which may run to twice as many sentences.
const multiNPCTokenFactor = 2

// Client is the conversation model: token-counted streaming chat plus the
// one-shot calls used for summaries. Every token count goes through the same
// counter so prompt fitting and summary limits agree.
type Client struct {
	provider domain.StreamingLLMProvider
	counter  domain.TokenCounter
	cfg      config.LLMConfig
	logger   *slog.Logger
}

// NewClient wires a provider and a token counter under cfg.
func NewClient(provider domain.StreamingLLMProvider, counter domain.TokenCounter, cfg config.LLMConfig, logger *slog.Logger) *Client {
	return &Client{
		provider: provider,
		counter:  counter,
		cfg:      cfg,
		logger:   logger,
	}
}

func (c *Client) request(msgs []domain.Message, maxTokens int) domain.ChatRequest {
	return domain.ChatRequest{
		Model:       c.cfg.Provider.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Stop:        c.cfg.Stop,
	}
}

// StreamingCall implements domain.ConversationLLM.
func (c *Client) StreamingCall(ctx context.Context, msgs []domain.Message, isMultiNPC bool) (<-chan domain.StreamDelta, error) {
	maxTokens := c.cfg.MaxResponseTokens
	if isMultiNPC {
		maxTokens *= multiNPCTokenFactor
	}

	ctx, span := tracer.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", c.provider.Name()),
			tracer.IntAttr("llm.prompt_tokens", c.counter.CountMessages(msgs)),
			tracer.BoolAttr("llm.multi_npc", isMultiNPC),
		),
	)
	defer span.End()

	ch, err := c.provider.ChatStream(ctx, c.request(msgs, maxTokens))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return ch, nil
}

// RequestCall implements domain.ConversationLLM.
func (c *Client) RequestCall(ctx context.Context, msgs []domain.Message) (string, error) {
	resp, err := c.provider.Chat(ctx, c.request(msgs, c.cfg.MaxResponseTokens))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrProviderError)
	}
	return text, nil
}

// TokensAvailable implements domain.ConversationLLM: the context window
// minus what is reserved for the reply.
func (c *Client) TokensAvailable() int {
	n := c.cfg.ContextWindow - c.cfg.MaxResponseTokens
	if n < 0 {
		return 0
	}
	return n
}

// IsTooLong implements domain.ConversationLLM.
func (c *Client) IsTooLong(msgs []domain.Message, fraction float64) bool {
	return float64(c.counter.CountMessages(msgs)) > fraction*float64(c.TokensAvailable())
}

// IsTextTooLong implements domain.ConversationLLM.
func (c *Client) IsTextTooLong(text string, fraction float64) bool {
	return float64(c.counter.CountText(text)) > fraction*float64(c.TokensAvailable())
}

// CountTokens implements domain.ConversationLLM.
func (c *Client) CountTokens(text string) int {
	return c.counter.CountText(text)
}

// FunctionClient asks a small model to pick a tool, bounded by a wall-clock
// timeout.
type FunctionClient struct {
	provider domain.LLMProvider
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFunctionClient wires the function-inference model.
func NewFunctionClient(provider domain.LLMProvider, cfg config.FunctionLLMConfig, logger *slog.Logger) *FunctionClient {
	return &FunctionClient{
		provider: provider,
		model:    cfg.Provider.Model,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// ChooseFunction implements domain.FunctionLLM. An expired timeout yields
// domain.ErrFunctionInferenceTimeout; cancellation of ctx itself is returned
// unchanged.
func (f *FunctionClient) ChooseFunction(ctx context.Context, msgs []domain.Message, tools []domain.ToolSchema) (*domain.ChatResponse, error) {
	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	resp, err := f.provider.Chat(callCtx, domain.ChatRequest{
		Model:    f.model,
		Messages: msgs,
		Tools:    tools,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			f.logger.Warn("function inference timed out", "timeout", f.timeout)
			return nil, domain.WrapOp("FunctionClient.ChooseFunction", domain.ErrFunctionInferenceTimeout)
		}
		return nil, err
	}
	return resp, nil
}
