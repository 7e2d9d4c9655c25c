// Package tts synthesizes voicelines through an OpenAI-compatible speech
// endpoint (POST /v1/audio/speech), as served by local XTTS, Piper and
// Kokoro bridges.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/tracer"
)

var _ domain.TTS = (*Client)(nil)

// maxAudioBytes bounds a single synthesized line.
const maxAudioBytes = 32 * 1024 * 1024

// aggroInstructions is sent with lines spoken in combat.
const aggroInstructions = "Speak loudly and aggressively, as if in the middle of a fight."

// Client implements domain.TTS.
type Client struct {
	cfg    config.TTSConfig
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	known  map[string]string // lowercase voice -> configured spelling
	loaded map[string]bool
}

// New creates the output directory and the client.
func New(cfg config.TTSConfig, logger *slog.Logger) (*Client, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create voiceline dir: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	known := make(map[string]string, len(cfg.KnownVoices))
	for _, v := range cfg.KnownVoices {
		known[strings.ToLower(v)] = v
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		known:  known,
		loaded: make(map[string]bool),
	}, nil
}

// resolve maps voice to the configured spelling. An empty known list
// accepts any voice.
func (c *Client) resolve(voice string) (string, bool) {
	if voice == "" {
		return "", false
	}
	if len(c.known) == 0 {
		return voice, true
	}
	v, ok := c.known[strings.ToLower(voice)]
	return v, ok
}

// ChangeVoice implements domain.TTS. The first candidate the engine knows
// is returned and marked loaded.
func (c *Client) ChangeVoice(_ context.Context, voice string, variants ...string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, candidate := range append([]string{voice}, variants...) {
		resolved, ok := c.resolve(candidate)
		if !ok {
			continue
		}
		if !c.loaded[resolved] {
			c.loaded[resolved] = true
			c.logger.Debug("voice model loaded", "voice", resolved)
		}
		return resolved, nil
	}
	return "", domain.NewDomainError("TTS.ChangeVoice", domain.ErrVoiceModelNotFound,
		strings.Join(append([]string{voice}, variants...), ", "))
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
	Instructions   string  `json:"instructions,omitempty"`
}

// Synthesize implements domain.TTS. The audio is written to
// <output_dir>/<ulid>.wav.
func (c *Client) Synthesize(ctx context.Context, voice, voiceline string, opts domain.SynthesisOptions) (domain.SynthesisResult, error) {
	ctx, span := tracer.StartSpan(ctx, "tts.synthesize",
		trace.WithAttributes(
			tracer.StringAttr("tts.voice", voice),
			tracer.IntAttr("tts.chars", len(voiceline)),
			tracer.BoolAttr("tts.aggro", opts.Aggro),
			tracer.BoolAttr("tts.first_line", opts.IsFirstLineOfResponse),
		),
	)
	defer span.End()

	resolved, ok := c.resolve(voice)
	if !ok {
		err := domain.NewDomainError("TTS.Synthesize", domain.ErrVoiceModelNotFound, voice)
		tracer.RecordError(span, err)
		return domain.SynthesisResult{}, err
	}

	req := speechRequest{
		Model:          c.cfg.Model,
		Input:          voiceline,
		Voice:          resolved,
		ResponseFormat: "wav",
		Speed:          c.cfg.Speed,
	}
	if opts.Aggro {
		req.Instructions = aggroInstructions
	}

	audio, err := c.post(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.SynthesisResult{}, err
	}

	path := filepath.Join(c.cfg.OutputDir, ulid.Make().String()+".wav")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		err = domain.NewDomainError("TTS.Synthesize", domain.ErrSynthesisFailure, "write voiceline: "+err.Error())
		tracer.RecordError(span, err)
		return domain.SynthesisResult{}, err
	}

	duration, err := wavDuration(audio)
	if err != nil {
		c.logger.Debug("estimating voiceline duration", "path", path, "reason", err)
		duration = estimateDuration(voiceline)
	}
	span.SetAttributes(tracer.Float64Attr("tts.duration", duration))
	tracer.SetOK(span)

	return domain.SynthesisResult{Path: path, Duration: duration}, nil
}

func (c *Client) post(ctx context.Context, req speechRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewDomainError("TTS.Synthesize", domain.ErrSynthesisFailure, err.Error())
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, domain.NewDomainError("TTS.Synthesize", domain.ErrSynthesisFailure, "read audio: "+err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewDomainError("TTS.Synthesize", domain.ErrVoiceModelNotFound, req.Voice)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewDomainError("TTS.Synthesize", domain.ErrSynthesisFailure,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(audio), 200)))
	case len(audio) == 0:
		return nil, domain.NewDomainError("TTS.Synthesize", domain.ErrSynthesisFailure, "empty audio")
	}
	return audio, nil
}

// truncate shortens s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := 0
	for i, r := range s {
		if i+utf8.RuneLen(r) > n {
			break
		}
		end = i + utf8.RuneLen(r)
	}
	return s[:end] + "..."
}
