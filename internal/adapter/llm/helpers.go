package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/tracer"
)

const (
	// maxResponseBody caps a non-streamed completion.
	maxResponseBody = 10 * 1024 * 1024
	// maxErrorBody caps what is read from a failed response.
	maxErrorBody = 4096
	// maxErrorDetail caps the detail quoted in the returned error.
	maxErrorDetail = 512
)

// post sends a JSON body and returns the open response for a 200, or the
// mapped domain error otherwise. The caller closes Body.
func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}
	return httpResp, nil
}

// doJSONRequest posts body and returns the whole completion.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpResp, err := post(ctx, client, url, body, headers, "")
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}
	return respBody, nil
}

// doStreamRequest posts body for an SSE completion.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	return post(ctx, client, url, body, headers, "text/event-stream")
}

func logChatCompleted(logger *slog.Logger, providerName string, result *domain.ChatResponse) {
	logger.Debug("llm chat completed",
		"provider", providerName,
		"model", result.Model,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)
}

func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// transportError classifies a failed round trip. A cancelled caller keeps
// its context error so the turn can tell cancellation from a dead endpoint.
func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("http request: %w", ctxErr)
	}
	return fmt.Errorf("%w: http request: %w", domain.ErrTransport, err)
}

// mapHTTPError maps a failed status to the sentinel the retry loop and the
// circuit breaker classify on.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, errorDetail(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge, contextLengthExceeded(body):
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode == http.StatusRequestTimeout, statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrTransport, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	}
}

// apiError is the error body shape of OpenAI and most compatible servers.
// Some local servers send a bare string instead of an object.
type apiError struct {
	Error  json.RawMessage `json:"error"`
	Detail string          `json:"detail"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
	Type    string `json:"type"`
}

func parseAPIError(body []byte) (apiErrorObject, bool) {
	var env apiError
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErrorObject{}, false
	}
	var obj apiErrorObject
	if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
		return obj, true
	}
	var msg string
	if json.Unmarshal(env.Error, &msg) == nil && msg != "" {
		return apiErrorObject{Message: msg}, true
	}
	if env.Detail != "" {
		return apiErrorObject{Message: env.Detail}, true
	}
	return apiErrorObject{}, false
}

// errorDetail returns the server's message, or the raw body when it is not
// a recognized error document.
func errorDetail(body []byte) string {
	detail := strings.TrimSpace(string(body))
	if obj, ok := parseAPIError(body); ok {
		detail = obj.Message
	}
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	return detail
}

// contextLengthExceeded spots the 400 a server sends when the prompt does
// not fit the model's window.
func contextLengthExceeded(body []byte) bool {
	obj, ok := parseAPIError(body)
	if !ok {
		return false
	}
	if code, _ := obj.Code.(string); code == "context_length_exceeded" {
		return true
	}
	msg := strings.ToLower(obj.Message)
	return strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context")
}
