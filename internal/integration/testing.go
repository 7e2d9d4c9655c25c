// Package integration holds end-to-end tests that talk to a real
// OpenAI-compatible endpoint. They run with -tags integration.
package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"npc-voice/internal/domain"
)

// Config holds integration test configuration from environment
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	TestTimeout time.Duration
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	key := os.Getenv("NPCVOICE_LLM_API_KEY")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	return &Config{
		APIKey:      key,
		BaseURL:     os.Getenv("NPCVOICE_LLM_BASE_URL"),
		Model:       os.Getenv("NPCVOICE_LLM_MODEL"),
		TestTimeout: 2 * time.Minute,
	}
}

// SkipIfNoAPIKey skips the test if no LLM key is set
func SkipIfNoAPIKey(t *testing.T, key string) {
	t.Helper()
	if key == "" {
		t.Skip("Skipping integration test: NPCVOICE_LLM_API_KEY not set")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// SilentTTS accepts every voice and records lines without rendering audio.
type SilentTTS struct {
	mu    sync.Mutex
	Lines []string
}

func (s *SilentTTS) ChangeVoice(_ context.Context, voice string, variants ...string) (string, error) {
	for _, v := range append([]string{voice}, variants...) {
		if v != "" {
			return v, nil
		}
	}
	return "", domain.NewDomainError("SilentTTS.ChangeVoice", domain.ErrVoiceModelNotFound, "no voice")
}

func (s *SilentTTS) Synthesize(_ context.Context, _, line string, _ domain.SynthesisOptions) (domain.SynthesisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = append(s.Lines, line)
	return domain.SynthesisResult{Path: fmt.Sprintf("silent/%d.wav", len(s.Lines)), Duration: 1}, nil
}
