package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared by every subsystem.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrDisabled     = fmt.Errorf("disabled")
)

// Turn-level error taxonomy, in priority order of user-visible effect.
var (
	ErrTransport                = fmt.Errorf("llm transport failure")
	ErrSynthesisFailure         = fmt.Errorf("speech synthesis failed")
	ErrVoiceModelNotFound       = fmt.Errorf("voice model not found")
	ErrPromptOverflow           = fmt.Errorf("prompt exceeds token budget")
	ErrConfigParse              = fmt.Errorf("failed to parse configuration")
	ErrSummarization            = fmt.Errorf("summarization failed")
	ErrFunctionInferenceTimeout = fmt.Errorf("function inference timed out")
	ErrReloadBudgetExceeded     = fmt.Errorf("conversation exceeds reload budget")
)

// Provider and conversation sentinels.
var (
	ErrContextOverflow      = fmt.Errorf("context window exceeded")
	ErrRateLimit            = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid          = fmt.Errorf("authentication failed")
	ErrProviderError        = fmt.Errorf("provider error")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrConversationEnded    = fmt.Errorf("conversation already ended")
	ErrUnknownPlaceholder   = fmt.Errorf("unknown prompt placeholder")
	ErrFunctionRejected     = fmt.Errorf("function call rejected")
	ErrMemoryStore          = fmt.Errorf("memory store failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Rememberer.Save")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransport)
}

// TurnErrorKind tags a turn-local failure.
type TurnErrorKind int

const (
	TurnErrTransport TurnErrorKind = iota + 1
	TurnErrSynthesis
	TurnErrPromptOverflow
	TurnErrSummarization
	TurnErrFunctionTimeout
	TurnErrReload
)

func (k TurnErrorKind) String() string {
	switch k {
	case TurnErrTransport:
		return "transport"
	case TurnErrSynthesis:
		return "synthesis"
	case TurnErrPromptOverflow:
		return "prompt_overflow"
	case TurnErrSummarization:
		return "summarization"
	case TurnErrFunctionTimeout:
		return "function_timeout"
	case TurnErrReload:
		return "reload"
	default:
		return "unknown"
	}
}

// TurnError is a tagged turn-local failure. It never aborts the process;
// the turn state machine decides which fallback to deliver.
type TurnError struct {
	Kind TurnErrorKind
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// NewTurnError tags err with kind.
func NewTurnError(kind TurnErrorKind, err error) *TurnError {
	return &TurnError{Kind: kind, Err: err}
}

// ErrorCode is a machine-parseable error category carried by error envelopes.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeDisabled             ErrorCode = "DISABLED"
	CodeTransport            ErrorCode = "TRANSPORT"
	CodeSynthesisFailure     ErrorCode = "SYNTHESIS_FAILURE"
	CodeVoiceModelNotFound   ErrorCode = "VOICE_MODEL_NOT_FOUND"
	CodePromptOverflow       ErrorCode = "PROMPT_OVERFLOW"
	CodeConfigParse          ErrorCode = "CONFIG_PARSE"
	CodeSummarization        ErrorCode = "SUMMARIZATION_FAILURE"
	CodeFunctionTimeout      ErrorCode = "FUNCTION_INFERENCE_TIMEOUT"
	CodeReloadBudget         ErrorCode = "RELOAD_BUDGET_EXCEEDED"
	CodeContextOverflow      ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeConversationEnded    ErrorCode = "CONVERSATION_ENDED"
	CodeUnknownPlaceholder   ErrorCode = "UNKNOWN_PLACEHOLDER"
	CodeFunctionRejected     ErrorCode = "FUNCTION_REJECTED"
	CodeMemoryStore          ErrorCode = "MEMORY_STORE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:                 CodeNotFound,
	ErrTimeout:                  CodeTimeout,
	ErrInvalidInput:             CodeInvalidInput,
	ErrDisabled:                 CodeDisabled,
	ErrTransport:                CodeTransport,
	ErrSynthesisFailure:         CodeSynthesisFailure,
	ErrVoiceModelNotFound:       CodeVoiceModelNotFound,
	ErrPromptOverflow:           CodePromptOverflow,
	ErrConfigParse:              CodeConfigParse,
	ErrSummarization:            CodeSummarization,
	ErrFunctionInferenceTimeout: CodeFunctionTimeout,
	ErrReloadBudgetExceeded:     CodeReloadBudget,
	ErrContextOverflow:          CodeContextOverflow,
	ErrRateLimit:                CodeRateLimit,
	ErrAuthInvalid:              CodeAuthInvalid,
	ErrProviderError:            CodeProviderError,
	ErrConversationNotFound:     CodeConversationNotFound,
	ErrConversationEnded:        CodeConversationEnded,
	ErrUnknownPlaceholder:       CodeUnknownPlaceholder,
	ErrFunctionRejected:         CodeFunctionRejected,
	ErrMemoryStore:              CodeMemoryStore,
}

// codePriority fixes the lookup order when an error chain wraps several
// sentinels; the more specific taxonomy entries win over categories.
var codePriority = []error{
	ErrVoiceModelNotFound,
	ErrSynthesisFailure,
	ErrTransport,
	ErrPromptOverflow,
	ErrConfigParse,
	ErrSummarization,
	ErrFunctionInferenceTimeout,
	ErrReloadBudgetExceeded,
	ErrContextOverflow,
	ErrRateLimit,
	ErrAuthInvalid,
	ErrProviderError,
	ErrConversationNotFound,
	ErrConversationEnded,
	ErrUnknownPlaceholder,
	ErrFunctionRejected,
	ErrMemoryStore,
	ErrNotFound,
	ErrTimeout,
	ErrInvalidInput,
	ErrDisabled,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
