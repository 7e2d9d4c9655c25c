package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"npc-voice/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Game         GameConfig         `yaml:"game"`
	LLM          LLMConfig          `yaml:"llm"`
	FunctionLLM  FunctionLLMConfig  `yaml:"function_llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Prompts      PromptsConfig      `yaml:"prompts"`
	Memory       MemoryConfig       `yaml:"memory"`
	TTS          TTSConfig          `yaml:"tts"`
	Actions      ActionsConfig      `yaml:"actions"`
	Characters   CharactersConfig   `yaml:"characters"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Includes     []string           `yaml:"includes,omitempty"`
}

// ServerConfig holds the game-facing HTTP endpoint settings.
type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	Path         string          `yaml:"path"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client. The game polls continuously,
// so limits are generous.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// GameConfig selects the game and the root folder of its persisted state.
type GameConfig struct {
	Name    domain.Game `yaml:"name"`
	DataDir string      `yaml:"data_dir"`
}

// LLMConfig holds the main conversation model settings.
type LLMConfig struct {
	Provider          ProviderConfig       `yaml:"provider"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
	ContextWindow     int                  `yaml:"context_window"`
	MaxResponseTokens int                  `yaml:"max_response_tokens"`
	Temperature       float64              `yaml:"temperature"`
	TopP              float64              `yaml:"top_p"`
	Stop              []string             `yaml:"stop"`
	Encoding          string               `yaml:"encoding"`
	TokenLimitPercent float64              `yaml:"token_limit_percent"`
	MaxRetries        int                  `yaml:"max_retries"`
}

// CircuitBreakerConfig holds LLM circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig describes one OpenAI-compatible endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// FunctionLLMConfig holds the function-inference model settings.
type FunctionLLMConfig struct {
	Enabled bool `yaml:"enabled"`
	// UseMainLLM reuses llm.provider instead of a dedicated endpoint.
	UseMainLLM bool           `yaml:"use_main_llm"`
	Provider   ProviderConfig `yaml:"provider"`
	Timeout    time.Duration  `yaml:"timeout"`
	Prompt     string         `yaml:"prompt"`
}

// ConversationConfig tunes parsing and turn handling.
type ConversationConfig struct {
	Language           string                   `yaml:"language"`
	STTLanguage        string                   `yaml:"stt_language"`
	Terminators        string                   `yaml:"terminators"`
	MinWords           int                      `yaml:"min_words"`
	MaxCharacters      int                      `yaml:"max_characters"`
	MinWordsTTS        int                      `yaml:"min_words_tts"`
	MaxSentencesSingle int                      `yaml:"max_response_sentences_single"`
	MaxSentencesMulti  int                      `yaml:"max_response_sentences_multi"`
	NarrationHandling  domain.NarrationHandling `yaml:"narration_handling"`
	NarrationStart     []string                 `yaml:"narration_start"`
	NarrationEnd       []string                 `yaml:"narration_end"`
	SpeechStart        []string                 `yaml:"speech_start"`
	SpeechEnd          []string                 `yaml:"speech_end"`
	NarratorVoice      string                   `yaml:"narrator_voice"`
	HourlyTime         bool                     `yaml:"hourly_time"`
	AutomaticGreeting  bool                     `yaml:"automatic_greeting"`
	RadiantMaxTurns    int                      `yaml:"radiant_max_turns"`
	ContinueTimeout    time.Duration            `yaml:"continue_timeout"`
	QueueCapacity      int                      `yaml:"queue_capacity"`
}

// PromptsConfig holds the prompt templates.
type PromptsConfig struct {
	Single      string `yaml:"single_npc"`
	Multi       string `yaml:"multi_npc"`
	Radiant     string `yaml:"radiant"`
	Memory      string `yaml:"memory"`
	Resummarize string `yaml:"resummarize"`
	// RadiantStart is the user turn that opens an NPC-only conversation.
	RadiantStart string `yaml:"radiant_start"`
	// RadiantContinue nudges an NPC-only conversation forward.
	RadiantContinue string `yaml:"radiant_continue"`
	Greeting        string `yaml:"greeting"`
}

// MemoryConfig holds rememberer settings.
type MemoryConfig struct {
	Dir             string        `yaml:"dir"`
	SummaryLimitPct float64       `yaml:"summary_limit_pct"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

// TTSConfig holds the speech synthesis endpoint settings.
type TTSConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	OutputDir   string        `yaml:"output_dir"`
	KnownVoices []string      `yaml:"known_voices"`
	Speed       float64       `yaml:"speed"`
	Timeout     time.Duration `yaml:"timeout"`
	Retention   time.Duration `yaml:"retention"`
}

// ActionsConfig holds the keyword actions and the function registry folder.
type ActionsConfig struct {
	Dir      string          `yaml:"dir"`
	Keywords []domain.Action `yaml:"keywords"`
}

// CharactersConfig locates the character roster and overrides.
type CharactersConfig struct {
	RosterPath   string `yaml:"roster_path"`
	OverridesDir string `yaml:"overrides_dir"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stdout, stderr or a file path
	// Rotation applies when Output is a file.
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig bounds the log file. Zero values keep lumberjack's
// defaults (100 MB, no backup or age limit).
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// SchedulerConfig holds the periodic maintenance settings.
type SchedulerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	VoiceFileCleanup string `yaml:"voicefile_cleanup"`
}

// defaultDataDir returns the persistent data directory under $HOME/.npcvoice.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".npcvoice")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:4999",
			Path:         "/mantella",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             60,
			},
		},
		Game: GameConfig{
			Name:    domain.GameSkyrim,
			DataDir: dataDir,
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:    "openrouter",
				BaseURL: "https://openrouter.ai/api/v1",
				Model:   "google/gemma-2-9b-it:free",
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			ContextWindow:     8192,
			MaxResponseTokens: 250,
			Temperature:       1.0,
			TopP:              1.0,
			Stop:              []string{"#"},
			Encoding:          "cl100k_base",
			TokenLimitPercent: 0.45,
			MaxRetries:        3,
		},
		FunctionLLM: FunctionLLMConfig{
			Enabled:    false,
			UseMainLLM: true,
			Timeout:    5 * time.Second,
			Prompt:     defaultFunctionPrompt,
		},
		Conversation: ConversationConfig{
			Language:           "en",
			MinWords:           1,
			MaxCharacters:      500,
			MinWordsTTS:        3,
			MaxSentencesSingle: 4,
			MaxSentencesMulti:  8,
			NarrationHandling:  domain.CutNarrations,
			NarrationStart:     []string{"^", "(", "*"},
			NarrationEnd:       []string{"`", ")", "*"},
			SpeechStart:        []string{"="},
			SpeechEnd:          []string{"="},
			NarratorVoice:      "narrator",
			AutomaticGreeting:  true,
			RadiantMaxTurns:    4,
			ContinueTimeout:    5 * time.Second,
			QueueCapacity:      64,
		},
		Prompts: PromptsConfig{
			Single:          defaultSinglePrompt,
			Multi:           defaultMultiPrompt,
			Radiant:         defaultRadiantPrompt,
			Memory:          defaultMemoryPrompt,
			Resummarize:     defaultResummarizePrompt,
			RadiantStart:    defaultRadiantStart,
			RadiantContinue: defaultRadiantContinue,
			Greeting:        defaultGreeting,
		},
		Memory: MemoryConfig{
			SummaryLimitPct: 0.45,
			MaxRetries:      3,
			RetryBackoff:    500 * time.Millisecond,
		},
		TTS: TTSConfig{
			BaseURL:   "http://127.0.0.1:8020",
			Model:     "tts-1",
			Speed:     1.0,
			Timeout:   30 * time.Second,
			Retention: 30 * time.Minute,
		},
		Actions: ActionsConfig{
			Keywords: DefaultActions(),
		},
		Logger: LoggerConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			Rotation: LogRotationConfig{MaxSizeMB: 20, MaxBackups: 3, MaxAgeDays: 14},
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			VoiceFileCleanup: "@every 10m",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigParse, err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w (second pass): %w", domain.ErrConfigParse, err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

// finish applies overrides, secrets and derived paths, then validates.
func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("NPCVOICE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	resolveDerived(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDerived fills values defined in terms of other settings.
func resolveDerived(cfg *Config) {
	// Empty stt_language follows the chat language; resolved once here.
	if cfg.Conversation.STTLanguage == "" {
		cfg.Conversation.STTLanguage = cfg.Conversation.Language
	}
	root := cfg.Game.DataDir
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = filepath.Join(root, "conversations")
	}
	if cfg.TTS.OutputDir == "" {
		cfg.TTS.OutputDir = filepath.Join(root, "voicelines")
	}
	if cfg.Actions.Dir == "" {
		cfg.Actions.Dir = filepath.Join(root, "actions")
	}
	if cfg.Characters.OverridesDir == "" {
		cfg.Characters.OverridesDir = filepath.Join(root, "character_overrides")
	}
	if cfg.Characters.RosterPath == "" {
		cfg.Characters.RosterPath = filepath.Join(root, "characters.csv")
	}
	if cfg.FunctionLLM.UseMainLLM {
		cfg.FunctionLLM.Provider = cfg.LLM.Provider
	}
}

// ApplyEnvOverrides maps NPCVOICE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NPCVOICE_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NPCVOICE_GAME"); v != "" {
		cfg.Game.Name = domain.Game(strings.ToLower(v))
	}
	if v := os.Getenv("NPCVOICE_DATA_DIR"); v != "" {
		cfg.Game.DataDir = v
	}

	if v := os.Getenv("NPCVOICE_LLM_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("NPCVOICE_LLM_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("NPCVOICE_LLM_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}
	if v := os.Getenv("NPCVOICE_LLM_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LLM.ContextWindow = n
		}
	}
	if v := os.Getenv("NPCVOICE_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.LLM.MaxRetries = n
		}
	}

	if v := os.Getenv("NPCVOICE_FUNCTION_LLM_ENABLED"); v == "true" {
		cfg.FunctionLLM.Enabled = true
	} else if v == "false" {
		cfg.FunctionLLM.Enabled = false
	}
	if v := os.Getenv("NPCVOICE_FUNCTION_LLM_API_KEY"); v != "" {
		cfg.FunctionLLM.Provider.APIKey = v
	}
	if v := os.Getenv("NPCVOICE_FUNCTION_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.FunctionLLM.Timeout = d
		}
	}

	if v := os.Getenv("NPCVOICE_LANGUAGE"); v != "" {
		cfg.Conversation.Language = v
	}
	if v := os.Getenv("NPCVOICE_NARRATION_HANDLING"); v != "" {
		cfg.Conversation.NarrationHandling = domain.NarrationHandling(v)
	}

	if v := os.Getenv("NPCVOICE_TTS_BASE_URL"); v != "" {
		cfg.TTS.BaseURL = v
	}
	if v := os.Getenv("NPCVOICE_TTS_API_KEY"); v != "" {
		cfg.TTS.APIKey = v
	}
	if v := os.Getenv("NPCVOICE_TTS_OUTPUT_DIR"); v != "" {
		cfg.TTS.OutputDir = v
	}

	if v := os.Getenv("NPCVOICE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("NPCVOICE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("NPCVOICE_LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("NPCVOICE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("NPCVOICE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets finds "enc:..." values in API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"llm.provider.api_key":          &cfg.LLM.Provider.APIKey,
		"function_llm.provider.api_key": &cfg.FunctionLLM.Provider.APIKey,
		"tts.api_key":                   &cfg.TTS.APIKey,
	}
	for field, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file is not writable by others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
