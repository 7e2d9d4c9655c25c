package config

import (
	"errors"
	"strings"
	"testing"

	"npc-voice/internal/domain"
)

func requireValidationError(t *testing.T, cfg *Config, want string) {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error containing %q", want)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not contain %q", err.Error(), want)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateServerAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = "not-an-addr"
	requireValidationError(t, cfg, "server.addr")
}

func TestValidateRateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Server.RateLimit.RequestsPerMinute = 0
	requireValidationError(t, cfg, "requests_per_minute")
}

func TestValidateGameName(t *testing.T) {
	cfg := Defaults()
	cfg.Game.Name = "oblivion"
	requireValidationError(t, cfg, "game.name")
}

func TestValidateLLMProvider(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Provider.BaseURL = "ftp://example"
	cfg.LLM.Provider.Model = ""
	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("want 2 errors, got %v", ve.Errors)
	}
}

func TestValidateTokenLimitPercent(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.TokenLimitPercent = 1.5
	requireValidationError(t, cfg, "token_limit_percent")
}

func TestValidateFunctionLLMDedicatedProvider(t *testing.T) {
	cfg := Defaults()
	cfg.FunctionLLM.Enabled = true
	cfg.FunctionLLM.UseMainLLM = false
	requireValidationError(t, cfg, "function_llm.provider.base_url")
}

func TestValidateMaxCharactersFloor(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.MaxCharacters = 10
	requireValidationError(t, cfg, "max_characters")
}

func TestValidateNarrationHandling(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.NarrationHandling = "whisper"
	requireValidationError(t, cfg, "narration_handling")
}

func TestValidateMarkersSingleCharacter(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.NarrationStart = []string{"**"}
	requireValidationError(t, cfg, "narration_start")
}

func TestValidateNarratorVoiceRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Conversation.NarrationHandling = domain.UseNarrator
	cfg.Conversation.NarratorVoice = ""
	requireValidationError(t, cfg, "narrator_voice")
}

func TestValidatePromptPlaceholders(t *testing.T) {
	cfg := Defaults()
	cfg.Prompts.Memory = "Summarize {name} for {audience}."
	requireValidationError(t, cfg, "prompts.memory uses unknown placeholder {audience}")
}

func TestValidateEmptyPrompt(t *testing.T) {
	cfg := Defaults()
	cfg.Prompts.Radiant = "  "
	requireValidationError(t, cfg, "prompts.radiant must not be empty")
}

func TestValidateDuplicateKeyword(t *testing.T) {
	cfg := Defaults()
	cfg.Actions.Keywords = append(cfg.Actions.Keywords, domain.Action{Identifier: "x", Keyword: "Follow"})
	requireValidationError(t, cfg, `keyword "Follow" is duplicated`)
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "loud"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 2 {
		t.Fatalf("expected two logger errors, got %v", err)
	}
}

func TestValidateLogRotation(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Rotation.MaxBackups = -1
	requireValidationError(t, cfg, "logger.rotation")
}

func TestValidateTracer(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "otlp"}
	requireValidationError(t, cfg, "tracer.endpoint is required for the otlp exporter")

	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "jaeger"}
	requireValidationError(t, cfg, "tracer.exporter")

	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "otlp", Endpoint: "http://localhost:4318/v1/traces"}
	if err := Validate(cfg); err != nil {
		t.Errorf("otlp with endpoint should validate: %v", err)
	}
}

func TestValidationErrorIsConfigParse(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.SummaryLimitPct = 0
	if err := Validate(cfg); !errors.Is(err, domain.ErrConfigParse) {
		t.Errorf("errors.Is(ErrConfigParse) = false for %v", err)
	}
}
