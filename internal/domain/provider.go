package domain

import "context"

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "openrouter").
	Name() string
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
// Err is set on the final delta when the stream broke mid-reply.
type StreamDelta struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// TokenCounter counts tokens with the encoder the LLM server uses.
type TokenCounter interface {
	CountText(text string) int
	CountMessages(msgs []Message) int
}

// ConversationLLM is the client contract the conversation core relies on.
// Token counts come from the same encoder for every call site.
type ConversationLLM interface {
	// StreamingCall starts a streamed reply. The channel closes when the
	// stream ends or ctx is cancelled.
	StreamingCall(ctx context.Context, msgs []Message, isMultiNPC bool) (<-chan StreamDelta, error)
	// RequestCall is a one-shot completion used for summaries.
	RequestCall(ctx context.Context, msgs []Message) (string, error)
	// IsTooLong reports whether msgs exceed fraction of the token budget.
	IsTooLong(msgs []Message, fraction float64) bool
	// IsTextTooLong reports whether text exceeds fraction of the token budget.
	IsTextTooLong(text string, fraction float64) bool
	// CountTokens counts the tokens of text.
	CountTokens(text string) int
	// TokensAvailable is the context budget left for the prompt.
	TokensAvailable() int
}

// FunctionLLM is the small model asked to choose a function.
type FunctionLLM interface {
	ChooseFunction(ctx context.Context, msgs []Message, tools []ToolSchema) (*ChatResponse, error)
}

// SynthesisOptions tunes a single synthesis call.
type SynthesisOptions struct {
	Aggro                 bool
	IsFirstLineOfResponse bool
}

// SynthesisResult is the artifact of a synthesis call.
type SynthesisResult struct {
	Path     string
	Duration float64
}

// TTS is the narrow speech synthesis collaborator.
type TTS interface {
	// ChangeVoice selects the first known voice among voice and variants,
	// loading and caching it lazily.
	ChangeVoice(ctx context.Context, voice string, variants ...string) (string, error)
	// Synthesize renders voiceline with voice and returns the audio file.
	// Fails with ErrSynthesisFailure or ErrVoiceModelNotFound.
	Synthesize(ctx context.Context, voice, voiceline string, opts SynthesisOptions) (SynthesisResult, error)
}
