package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"npc-voice/internal/domain"
)

func TestClassifyNilError(t *testing.T) {
	got := NewErrorClassifier().Classify(nil)
	if got.Category != ErrorCategoryUnknown {
		t.Errorf("Category = %d, want Unknown", got.Category)
	}
	if got.Original != nil {
		t.Errorf("Original = %v, want nil", got.Original)
	}
}

func TestClassifyStatusCodes(t *testing.T) {
	tests := []struct {
		msg      string
		category ErrorCategory
		sentinel error
		status   int
	}{
		{"API error 429: rate limit exceeded", ErrorCategoryRetryable, domain.ErrRateLimit, 429},
		{"API error 401: unauthorized", ErrorCategoryPermanent, domain.ErrAuthInvalid, 401},
		{"API error 403: forbidden", ErrorCategoryPermanent, domain.ErrAuthInvalid, 403},
		{"API error 502: bad gateway", ErrorCategoryRetryable, domain.ErrTransport, 502},
		{"API error 400: bad request", ErrorCategoryPermanent, nil, 400},
	}
	c := NewErrorClassifier()
	for _, tt := range tests {
		got := c.Classify(errors.New(tt.msg))
		if got.Category != tt.category {
			t.Errorf("%q: Category = %d, want %d", tt.msg, got.Category, tt.category)
		}
		if tt.sentinel != nil && !errors.Is(got.Sentinel, tt.sentinel) {
			t.Errorf("%q: Sentinel = %v, want %v", tt.msg, got.Sentinel, tt.sentinel)
		}
		if got.StatusCode != tt.status {
			t.Errorf("%q: StatusCode = %d, want %d", tt.msg, got.StatusCode, tt.status)
		}
	}
}

func TestClassifyWrappedSentinels(t *testing.T) {
	c := NewErrorClassifier()

	got := c.Classify(fmt.Errorf("%w: API error 503: overloaded", domain.ErrTransport))
	if !got.Retryable() {
		t.Error("wrapped transport error should be retryable")
	}
	if got.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", got.StatusCode)
	}

	got = c.Classify(fmt.Errorf("%w: prompt too large", domain.ErrContextOverflow))
	if got.Retryable() {
		t.Error("context overflow should not be retried")
	}

	got = c.Classify(fmt.Errorf("%w: model not found", domain.ErrProviderError))
	if got.Category != ErrorCategoryPermanent {
		t.Errorf("Category = %d, want Permanent", got.Category)
	}
}

func TestClassifyCancellationIsPermanent(t *testing.T) {
	got := NewErrorClassifier().Classify(fmt.Errorf("stream: %w", context.Canceled))
	if got.Category != ErrorCategoryPermanent {
		t.Errorf("Category = %d, want Permanent", got.Category)
	}
}

func TestClassifyByString(t *testing.T) {
	c := NewErrorClassifier()
	for _, msg := range []string{
		"dial tcp: connection refused",
		"read: connection reset by peer",
		"unexpected EOF",
		"context deadline exceeded",
	} {
		if got := c.Classify(errors.New(msg)); !got.Retryable() {
			t.Errorf("%q: want retryable", msg)
		}
	}
	if got := c.Classify(errors.New("Too Many Requests")); !errors.Is(got.Sentinel, domain.ErrRateLimit) {
		t.Errorf("Sentinel = %v, want ErrRateLimit", got.Sentinel)
	}
	if got := c.Classify(errors.New("something odd")); got.Category != ErrorCategoryUnknown {
		t.Errorf("Category = %d, want Unknown", got.Category)
	}
}

func TestRetryBackoff(t *testing.T) {
	for attempt, base := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second} {
		got := retryBackoff(attempt)
		if got < base || got > base+base/4 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, got, base, base+base/4)
		}
	}
	if got := retryBackoff(20); got > 10*time.Second+10*time.Second/4 {
		t.Errorf("backoff %v exceeds the cap", got)
	}
}
