package gateway

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"npc-voice/internal/domain"
)

// Metrics counts conversation events for /health and /metrics.
type Metrics struct {
	ConversationsTotal atomic.Int64
	SentencesTotal     atomic.Int64
	WarningsTotal      atomic.Int64
	StreamErrorsTotal  atomic.Int64
	FunctionCallsTotal atomic.Int64
	MemorySavesTotal   atomic.Int64
	VoiceFilesPruned   atomic.Int64

	unsubs []func()
}

// NewMetrics subscribes the counters to bus.
func NewMetrics(bus domain.EventBus) *Metrics {
	m := &Metrics{}
	counters := map[domain.EventType]*atomic.Int64{
		domain.EventConversationStarted: &m.ConversationsTotal,
		domain.EventSentenceQueued:      &m.SentencesTotal,
		domain.EventWarning:             &m.WarningsTotal,
		domain.EventStreamError:         &m.StreamErrorsTotal,
		domain.EventFunctionCalled:      &m.FunctionCallsTotal,
		domain.EventMemorySaved:         &m.MemorySavesTotal,
	}
	for typ, c := range counters {
		m.unsubs = append(m.unsubs, bus.Subscribe(typ, func(context.Context, domain.Event) { c.Add(1) }))
	}
	m.unsubs = append(m.unsubs, bus.Subscribe(domain.EventVoiceFilesPruned, func(_ context.Context, e domain.Event) {
		var p domain.VoiceFilesPrunedPayload
		if decodePayload(e, &p) == nil {
			m.VoiceFilesPruned.Add(int64(p.Removed))
		}
	}))
	return m
}

// Close unsubscribes the counters.
func (m *Metrics) Close() {
	for _, u := range m.unsubs {
		u()
	}
	m.unsubs = nil
}

// HealthResponse is the JSON body returned by GET /health.
type HealthResponse struct {
	Status        string      `json:"status"`
	Game          domain.Game `json:"game"`
	Conversations int         `json:"conversations"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Sentences     int64       `json:"sentences_total"`
	Warnings      int64       `json:"warnings_total"`
}

func healthHandler(convs Conversations, game domain.Game, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Game:          game,
			Conversations: convs.Len(),
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Sentences:     metrics.SentencesTotal.Load(),
			Warnings:      metrics.WarningsTotal.Load(),
		})
	}
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func metricsHandler(convs Conversations, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		gauge := func(name, help string, v any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
		}
		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}

		gauge("npcvoice_conversations_active", "Number of live conversations.", convs.Len())
		counter("npcvoice_conversations_total", "Conversations started.", metrics.ConversationsTotal.Load())
		counter("npcvoice_sentences_total", "Sentences queued for delivery.", metrics.SentencesTotal.Load())
		counter("npcvoice_warnings_total", "Turn warnings raised.", metrics.WarningsTotal.Load())
		counter("npcvoice_stream_errors_total", "LLM streams that failed after retries.", metrics.StreamErrorsTotal.Load())
		counter("npcvoice_function_calls_total", "Function calls delivered to the game.", metrics.FunctionCallsTotal.Load())
		counter("npcvoice_memory_saves_total", "Conversation memories saved.", metrics.MemorySavesTotal.Load())
		counter("npcvoice_voice_files_pruned_total", "Voice files removed by the janitor.", metrics.VoiceFilesPruned.Load())
		gauge("npcvoice_uptime_seconds", "Seconds since the server started.", fmt.Sprintf("%.0f", time.Since(startTime).Seconds()))
		gauge("go_goroutines", "Number of goroutines.", runtime.NumGoroutine())
	}
}
