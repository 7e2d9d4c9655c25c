package conversation

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"npc-voice/internal/domain"
)

// ErrorCategory indicates whether an LLM error is worth retrying.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, connection errors
	ErrorCategoryPermanent               // 401, 403, 400, caller cancellation
)

// ClassifiedError holds the result of error classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped domain sentinel, or nil
	StatusCode int   // extracted HTTP status, or 0 if unknown
}

// Retryable reports whether the turn should try the call again.
func (c ClassifiedError) Retryable() bool { return c.Category == ErrorCategoryRetryable }

// ErrorClassifier sorts LLM client failures into retryable and permanent.
type ErrorClassifier struct{}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status_code>:" produced by the LLM adapter.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify inspects an LLM client error.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}
	if errors.Is(err, context.Canceled) {
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent}
	}

	status := 0
	if m := apiErrorPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		status, _ = strconv.Atoi(m[1])
	}

	if classified := c.classifyBySentinel(err); classified.Category != ErrorCategoryUnknown {
		classified.StatusCode = status
		return classified
	}
	if status != 0 {
		return c.classifyByStatus(err, status)
	}
	return c.classifyByString(err, err.Error())
}

// classifyBySentinel checks for the sentinels the LLM adapter wraps.
func (c *ErrorClassifier) classifyBySentinel(err error) ClassifiedError {
	for _, s := range []struct {
		sentinel error
		category ErrorCategory
	}{
		{domain.ErrRateLimit, ErrorCategoryRetryable},
		{domain.ErrTransport, ErrorCategoryRetryable},
		{domain.ErrAuthInvalid, ErrorCategoryPermanent},
		// The prompt is already fitted; a provider that still refuses it
		// will refuse it again.
		{domain.ErrContextOverflow, ErrorCategoryPermanent},
		{domain.ErrProviderError, ErrorCategoryPermanent},
	} {
		if errors.Is(err, s.sentinel) {
			return ClassifiedError{Original: err, Category: s.category, Sentinel: s.sentinel}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func (c *ErrorClassifier) classifyByStatus(err error, code int) ClassifiedError {
	switch {
	case code == 429:
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit, StatusCode: code}
	case code == 401 || code == 403:
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrAuthInvalid, StatusCode: code}
	case code >= 500 && code < 600:
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTransport, StatusCode: code}
	default:
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, StatusCode: code}
	}
}

func (c *ErrorClassifier) classifyByString(err error, errStr string) ClassifiedError {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit}
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "timeout",
		"deadline exceeded", "connection reset", "eof",
	} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTransport}
		}
	}

	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}
