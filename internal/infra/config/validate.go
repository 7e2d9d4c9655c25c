package config

import (
	"fmt"
	"net"
	"strings"

	"npc-voice/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap classifies every validation failure as a configuration parse error.
func (v *ValidationError) Unwrap() error { return domain.ErrConfigParse }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateGame(cfg, ve)
	validateLLM(cfg, ve)
	validateFunctionLLM(cfg, ve)
	validateConversation(cfg, ve)
	validatePrompts(cfg, ve)
	validateMemory(cfg, ve)
	validateTTS(cfg, ve)
	validateActions(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not host:port: %v", cfg.Server.Addr, err)
	}
	if !strings.HasPrefix(cfg.Server.Path, "/") {
		ve.Add("server.path must start with /")
	}
	if cfg.Server.RateLimit.Enabled {
		if cfg.Server.RateLimit.RequestsPerMinute <= 0 {
			ve.Add("server.rate_limit.requests_per_minute must be > 0 when enabled")
		}
		if cfg.Server.RateLimit.Burst <= 0 {
			ve.Add("server.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateGame(cfg *Config, ve *ValidationError) {
	if !cfg.Game.Name.Valid() {
		ve.Add("game.name %q is not one of skyrim, skyrimvr, fallout4, fallout4vr", cfg.Game.Name)
	}
	if cfg.Game.DataDir == "" {
		ve.Add("game.data_dir must not be empty")
	}
}

func validateProvider(prefix string, p ProviderConfig, ve *ValidationError) {
	if p.BaseURL == "" {
		ve.Add("%s.base_url must not be empty", prefix)
	} else if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
		ve.Add("%s.base_url must be an http(s) URL", prefix)
	}
	if p.Model == "" {
		ve.Add("%s.model must not be empty", prefix)
	}
	if p.ConnTimeout < 0 || p.RespTimeout < 0 {
		ve.Add("%s timeouts must be >= 0", prefix)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	validateProvider("llm.provider", cfg.LLM.Provider, ve)
	if cfg.LLM.ContextWindow <= 0 {
		ve.Add("llm.context_window must be > 0")
	}
	if cfg.LLM.MaxResponseTokens < 0 || cfg.LLM.MaxResponseTokens >= cfg.LLM.ContextWindow {
		ve.Add("llm.max_response_tokens must be >= 0 and below llm.context_window")
	}
	if cfg.LLM.TokenLimitPercent <= 0 || cfg.LLM.TokenLimitPercent > 1 {
		ve.Add("llm.token_limit_percent must be in (0, 1]")
	}
	if cfg.LLM.MaxRetries < 0 {
		ve.Add("llm.max_retries must be >= 0")
	}
}

func validateFunctionLLM(cfg *Config, ve *ValidationError) {
	if !cfg.FunctionLLM.Enabled {
		return
	}
	if !cfg.FunctionLLM.UseMainLLM {
		validateProvider("function_llm.provider", cfg.FunctionLLM.Provider, ve)
	}
	if cfg.FunctionLLM.Timeout <= 0 {
		ve.Add("function_llm.timeout must be > 0")
	}
}

func validateConversation(cfg *Config, ve *ValidationError) {
	c := cfg.Conversation
	if c.Language == "" {
		ve.Add("conversation.language must not be empty")
	}
	if c.MinWords < 0 {
		ve.Add("conversation.min_words must be >= 0")
	}
	if c.MaxCharacters < 30 {
		ve.Add("conversation.max_characters must be >= 30")
	}
	if c.MaxSentencesSingle < 0 || c.MaxSentencesMulti < 0 {
		ve.Add("conversation.max_response_sentences_* must be >= 0")
	}
	switch c.NarrationHandling {
	case domain.UseNarrator, domain.CutNarrations:
	default:
		ve.Add("conversation.narration_handling %q must be %q or %q",
			c.NarrationHandling, domain.UseNarrator, domain.CutNarrations)
	}
	for name, markers := range map[string][]string{
		"narration_start": c.NarrationStart,
		"narration_end":   c.NarrationEnd,
		"speech_start":    c.SpeechStart,
		"speech_end":      c.SpeechEnd,
	} {
		for _, m := range markers {
			if len([]rune(m)) != 1 {
				ve.Add("conversation.%s entries must be single characters, got %q", name, m)
			}
		}
	}
	if c.NarrationHandling == domain.UseNarrator && c.NarratorVoice == "" {
		ve.Add("conversation.narrator_voice must be set when narration_handling is %q", domain.UseNarrator)
	}
	if c.RadiantMaxTurns < 0 {
		ve.Add("conversation.radiant_max_turns must be >= 0")
	}
	if c.ContinueTimeout <= 0 {
		ve.Add("conversation.continue_timeout must be > 0")
	}
	if c.QueueCapacity <= 0 {
		ve.Add("conversation.queue_capacity must be > 0")
	}
}

func validatePrompts(cfg *Config, ve *ValidationError) {
	templates := map[string]string{
		"prompts.single_npc":       cfg.Prompts.Single,
		"prompts.multi_npc":        cfg.Prompts.Multi,
		"prompts.radiant":          cfg.Prompts.Radiant,
		"prompts.memory":           cfg.Prompts.Memory,
		"prompts.resummarize":      cfg.Prompts.Resummarize,
		"prompts.greeting":         cfg.Prompts.Greeting,
		"prompts.radiant_start":    cfg.Prompts.RadiantStart,
		"prompts.radiant_continue": cfg.Prompts.RadiantContinue,
	}
	for field, tmpl := range templates {
		if strings.TrimSpace(tmpl) == "" {
			ve.Add("%s must not be empty", field)
			continue
		}
		for _, name := range domain.UnknownPlaceholders(tmpl) {
			ve.Add("%s uses unknown placeholder {%s}", field, name)
		}
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	if cfg.Memory.SummaryLimitPct <= 0 || cfg.Memory.SummaryLimitPct > 1 {
		ve.Add("memory.summary_limit_pct must be in (0, 1]")
	}
	if cfg.Memory.MaxRetries < 1 {
		ve.Add("memory.max_retries must be >= 1")
	}
}

func validateTTS(cfg *Config, ve *ValidationError) {
	if cfg.TTS.BaseURL == "" {
		ve.Add("tts.base_url must not be empty")
	}
	if cfg.TTS.Retention < 0 {
		ve.Add("tts.retention must be >= 0")
	}
}

func validateActions(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, a := range cfg.Actions.Keywords {
		if a.Identifier == "" {
			ve.Add("actions.keywords[%d].identifier must not be empty", i)
		}
		if a.Keyword == "" {
			ve.Add("actions.keywords[%d].keyword must not be empty", i)
		}
		if seen[a.Keyword] {
			ve.Add("actions.keywords[%d].keyword %q is duplicated", i, a.Keyword)
		}
		seen[a.Keyword] = true
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be debug, info, warn or error", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	rot := cfg.Logger.Rotation
	if rot.MaxSizeMB < 0 || rot.MaxBackups < 0 || rot.MaxAgeDays < 0 {
		ve.Add("logger.rotation values must not be negative")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "file", "otlp":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint is required for the %s exporter", cfg.Tracer.Exporter)
		}
	default:
		ve.Add("tracer.exporter %q must be noop, stdout, file or otlp", cfg.Tracer.Exporter)
	}
}
