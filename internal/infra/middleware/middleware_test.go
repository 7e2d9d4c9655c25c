package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func send(h http.Handler, remote string) int {
	req := httptest.NewRequest(http.MethodPost, "/mantella", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_AllowsNormalTraffic(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10}
	h := RateLimit(context.Background(), cfg, nil)(okHandler)

	for i := 0; i < 10; i++ {
		if code := send(h, "127.0.0.1:5000"); code != http.StatusOK {
			t.Errorf("request %d: status %d, want 200", i+1, code)
		}
	}
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 6, Burst: 3}
	h := RateLimit(context.Background(), cfg, nil)(okHandler)

	ok, blocked := 0, 0
	for i := 0; i < 10; i++ {
		switch send(h, "127.0.0.1:5000") {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			blocked++
		}
	}
	if ok != 3 || blocked != 7 {
		t.Errorf("ok=%d blocked=%d, want 3 and 7", ok, blocked)
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 6, Burst: 1}
	h := RateLimit(context.Background(), cfg, nil)(okHandler)

	send(h, "127.0.0.1:5000")
	if code := send(h, "127.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Errorf("same host, different port: status %d, want 429", code)
	}
	if code := send(h, "127.0.0.2:5000"); code != http.StatusOK {
		t.Errorf("second client: status %d, want 200", code)
	}
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	h := RateLimit(context.Background(), config.RateLimitConfig{Burst: 0}, nil)(okHandler)
	for i := 0; i < 5; i++ {
		if code := send(h, "127.0.0.1:5000"); code != http.StatusOK {
			t.Fatalf("status %d, want 200", code)
		}
	}
}

func TestRateLimit_CustomReject(t *testing.T) {
	var gotCode domain.ErrorCode
	reject := func(w http.ResponseWriter, _ *http.Request, status int, code domain.ErrorCode, _ string) {
		gotCode = code
		w.WriteHeader(status)
	}
	cfg := config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	h := RateLimit(context.Background(), cfg, reject)(okHandler)

	send(h, "127.0.0.1:5000")
	send(h, "127.0.0.1:5000")
	if gotCode != domain.CodeRateLimit {
		t.Errorf("reject code = %q, want %q", gotCode, domain.CodeRateLimit)
	}
}

func TestLoopbackOnly(t *testing.T) {
	h := LoopbackOnly(nil)(okHandler)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:4000", http.StatusOK},
		{"[::1]:4000", http.StatusOK},
		{"192.168.1.20:4000", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		if got := send(h, tt.remote); got != tt.want {
			t.Errorf("%s: status %d, want %d", tt.remote, got, tt.want)
		}
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Recover(logger, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	if code := send(h, "127.0.0.1:1"); code != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", code)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := RequestLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	send(h, "127.0.0.1:1")
	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "level=WARN") {
		t.Errorf("unexpected log line: %s", out)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler, mark("outer"), mark("inner"))
	send(h, "127.0.0.1:1")
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}
