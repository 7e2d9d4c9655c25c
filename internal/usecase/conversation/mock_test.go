package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

// mockLLM replays scripted replies. Call i streams replies[i], or the last
// reply once the script is exhausted; errs[i] fails call i instead. A call
// listed in hold keeps its stream open until the caller cancels.
type mockLLM struct {
	mu          sync.Mutex
	replies     [][]string
	errs        []error
	hold        map[int]bool
	calls       [][]domain.Message
	tooLong     func(msgs []domain.Message) bool
	textTooLong func(text string) bool
}

func (m *mockLLM) StreamingCall(ctx context.Context, msgs []domain.Message, _ bool) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]domain.Message(nil), msgs...))
	i := len(m.calls) - 1
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	var chunks []string
	if len(m.replies) > 0 {
		chunks = m.replies[min(i, len(m.replies)-1)]
	}
	ch := make(chan domain.StreamDelta, len(chunks)+1)
	for _, c := range chunks {
		ch <- domain.StreamDelta{Content: c}
	}
	if m.hold[i] {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	ch <- domain.StreamDelta{Done: true}
	close(ch)
	return ch, nil
}

func (m *mockLLM) RequestCall(context.Context, []domain.Message) (string, error) {
	return "summary", nil
}

func (m *mockLLM) IsTooLong(msgs []domain.Message, _ float64) bool {
	m.mu.Lock()
	f := m.tooLong
	m.mu.Unlock()
	return f != nil && f(msgs)
}

func (m *mockLLM) IsTextTooLong(text string, _ float64) bool {
	m.mu.Lock()
	f := m.textTooLong
	m.mu.Unlock()
	return f != nil && f(text)
}

func (m *mockLLM) CountTokens(text string) int { return len(strings.Fields(text)) }
func (m *mockLLM) TokensAvailable() int        { return 1000 }

func (m *mockLLM) setTooLong(f func([]domain.Message) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tooLong = f
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockLLM) lastCall() []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

type synthCall struct {
	Voice string
	Text  string
	Opts  domain.SynthesisOptions
}

// mockTTS voices every line unless the voice or text is marked as failing.
type mockTTS struct {
	mu         sync.Mutex
	calls      []synthCall
	failVoices map[string]bool
	failTexts  map[string]bool
}

func (m *mockTTS) ChangeVoice(_ context.Context, voice string, variants ...string) (string, error) {
	for _, v := range append([]string{voice}, variants...) {
		if v != "" && !m.failVoices[v] {
			return v, nil
		}
	}
	return "", domain.NewDomainError("mockTTS.ChangeVoice", domain.ErrVoiceModelNotFound, voice)
}

func (m *mockTTS) Synthesize(_ context.Context, voice, line string, opts domain.SynthesisOptions) (domain.SynthesisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, synthCall{Voice: voice, Text: line, Opts: opts})
	if m.failTexts[line] {
		return domain.SynthesisResult{}, domain.NewDomainError("mockTTS.Synthesize", domain.ErrSynthesisFailure, "engine crashed")
	}
	return domain.SynthesisResult{Path: fmt.Sprintf("/voicelines/%d.wav", len(m.calls)), Duration: 1.5}, nil
}

func (m *mockTTS) voiceFor(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c.Text == text {
			return c.Voice
		}
	}
	return ""
}

type mockMemory struct {
	mu        sync.Mutex
	summaries map[string]string
	counts    map[string]int
	saved     [][]domain.Message
	savedNPCs [][]string
}

func (m *mockMemory) Summaries(_ string, npc domain.Character) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries[npc.Name]
}

func (m *mockMemory) ConversationCount(_ string, npc domain.Character) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[npc.Name]
}

func (m *mockMemory) Save(_ context.Context, _ string, npcs []domain.Character, thread []domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(npcs))
	for i, n := range npcs {
		names[i] = n.Name
	}
	m.saved = append(m.saved, thread)
	m.savedNPCs = append(m.savedNPCs, names)
	return nil
}

func (m *mockMemory) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

// recordingBus keeps every published event.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()               { return func() {} }
func (b *recordingBus) Close()                                                {}

func (b *recordingBus) warnings(kind domain.ErrorCode) []domain.WarningPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.WarningPayload
	for _, e := range b.events {
		if e.Type != domain.EventWarning {
			continue
		}
		var w domain.WarningPayload
		if json.Unmarshal(e.Payload, &w) == nil && w.Kind == string(kind) {
			out = append(out, w)
		}
	}
	return out
}

func (b *recordingBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type mockFunctions struct {
	call  *domain.FunctionCall
	err   error
	delay time.Duration
}

func (m *mockFunctions) Infer(ctx context.Context, _ domain.FunctionRequest) (*domain.FunctionCall, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.call, m.err
}

type testEnv struct {
	cfg    *config.Config
	llm    *mockLLM
	tts    *mockTTS
	memory *mockMemory
	bus    *recordingBus
	svc    *CoreServices
}

func newTestEnv(t *testing.T, replies ...[]string) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.Conversation.ContinueTimeout = 2 * time.Second
	cfg.Conversation.MinWordsTTS = 1
	env := &testEnv{
		cfg:    cfg,
		llm:    &mockLLM{replies: replies},
		tts:    &mockTTS{failVoices: map[string]bool{}, failTexts: map[string]bool{}},
		memory: &mockMemory{summaries: map[string]string{}, counts: map[string]int{}},
		bus:    &recordingBus{},
	}
	env.svc = &CoreServices{
		Config:  cfg,
		LLM:     env.llm,
		TTS:     env.tts,
		Memory:  env.memory,
		Actions: cfg.Actions.Keywords,
		Bus:     env.bus,
		Logger:  slog.Default(),
		Backoff: func(int) time.Duration { return 0 },
	}
	require.NoError(t, env.svc.Validate())
	return env
}

func (e *testEnv) conversation() *Conversation {
	return newConversation("conv-1", "world-1", e.svc)
}

var (
	player = domain.Character{Name: "Dovahkiin", RefID: "14", IsPlayer: true, Bio: "is a Nord warrior."}
	guard  = domain.Character{Name: "Guard", RefID: "100", VoiceModel: "MaleGuard", Bio: "A Whiterun guard."}
	lydia  = domain.Character{Name: "Lydia", RefID: "200", VoiceModel: "FemaleEvenToned", Bio: "A housecarl."}
)

func hourPtr(h int) *int { return &h }

// drain polls until the turn passes to the player or the conversation ends.
func drain(t *testing.T, conv *Conversation, first Reply) []Reply {
	t.Helper()
	replies := []Reply{first}
	for i := 0; i < 50; i++ {
		last := replies[len(replies)-1]
		if last.Kind == ReplyPlayerTalk || last.Kind == ReplyEnd {
			return replies
		}
		r, err := conv.Continue(context.Background(), ContinueRequest{})
		require.NoError(t, err)
		replies = append(replies, r)
	}
	t.Fatal("conversation never yielded the turn")
	return nil
}

func spoken(replies []Reply) []string {
	var out []string
	for _, r := range replies {
		if r.Kind == ReplyNPCTalk && r.Sentence.Content.Text != "" {
			out = append(out, r.Sentence.Content.Text)
		}
	}
	return out
}
