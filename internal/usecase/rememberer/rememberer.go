// Package rememberer persists what NPCs remember between conversations:
// the raw history of every conversation and a chain of LLM summaries.
package rememberer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/tracer"
)

// Rememberer implements domain.MemoryStore on plain files:
//
//	<dir>/<world>/<npc>/<npc>.json            list of conversations
//	<dir>/<world>/<npc>/<npc>_summary_<N>.txt summaries, highest N active
type Rememberer struct {
	dir      string
	cfg      config.MemoryConfig
	prompts  config.PromptsConfig
	game     domain.Game
	language string
	llm      domain.ConversationLLM
	logger   *slog.Logger

	mu sync.Mutex // serializes file access
}

// New creates a rememberer rooted at cfg.Memory.Dir.
func New(cfg *config.Config, llm domain.ConversationLLM, logger *slog.Logger) (*Rememberer, error) {
	if err := os.MkdirAll(cfg.Memory.Dir, 0700); err != nil {
		return nil, domain.NewDomainError("rememberer.New", domain.ErrMemoryStore, err.Error())
	}
	return &Rememberer{
		dir:      cfg.Memory.Dir,
		cfg:      cfg.Memory,
		prompts:  cfg.Prompts,
		game:     cfg.Game.Name,
		language: cfg.Conversation.Language,
		llm:      llm,
		logger:   logger,
	}, nil
}

// Summaries returns the active summary file of npc, or "" when the NPC has
// no summaries yet.
func (r *Rememberer) Summaries(world string, npc domain.Character) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := r.readDir(world, npc)
	n := latestSummary(base)
	if n == 0 {
		return ""
	}
	data, err := os.ReadFile(summaryPath(base, n))
	if err != nil {
		r.logger.Warn("reading summary failed", "npc", npc.Name, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ConversationCount returns how many conversations with npc are logged.
func (r *Rememberer) ConversationCount(world string, npc domain.Character) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := readHistory(historyPath(r.readDir(world, npc)))
	if err != nil {
		r.logger.Warn("reading conversation history failed", "npc", npc.Name, "error", err)
		return 0
	}
	return len(history)
}

// Save appends thread to the history of every NPC and summarizes it for
// each NPC found in the roster. A failed summary is logged and skipped.
func (r *Rememberer) Save(ctx context.Context, world string, npcs []domain.Character, thread []domain.Message) error {
	if len(thread) == 0 {
		return nil
	}

	names := make(map[string]int, len(npcs))
	for _, npc := range npcs {
		names[npc.Name]++
	}

	var errs []error
	for _, npc := range npcs {
		base := r.npcDir(world, dirName(npc, names[npc.Name] > 1))
		if err := r.appendHistory(base, thread); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", npc.Name, err))
			continue
		}
		if npc.IsGeneric {
			continue
		}
		if err := r.remember(ctx, base, npc, thread); err != nil {
			if errors.Is(err, domain.ErrMemoryStore) {
				errs = append(errs, fmt.Errorf("%s: %w", npc.Name, err))
				continue
			}
			r.logger.Warn("conversation not summarized", "npc", npc.Name, "error", err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return domain.WrapOp("Rememberer.Save", err)
	}
	return nil
}

// remember summarizes thread into the active summary file, condensing the
// file into a new one once it outgrows the budget.
func (r *Rememberer) remember(ctx context.Context, base string, npc domain.Character, thread []domain.Message) error {
	ctx, span := tracer.StartSpan(ctx, "memory.summarize",
		trace.WithAttributes(
			tracer.StringAttr("npc.name", npc.Name),
			tracer.IntAttr("memory.messages", len(thread)),
		),
	)
	defer span.End()

	summary, err := r.summarize(ctx, r.prompts.Memory, npc, transcriptText(summaryWindow(thread)))
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if summary == "" {
		tracer.SetOK(span)
		return nil
	}

	r.mu.Lock()
	n := max(latestSummary(base), 1)
	content, err := appendSummary(summaryPath(base, n), summary)
	r.mu.Unlock()
	if err != nil {
		tracer.RecordError(span, err)
		return domain.NewDomainError("Rememberer.remember", domain.ErrMemoryStore, err.Error())
	}

	limit := int(r.cfg.SummaryLimitPct * float64(r.llm.TokensAvailable()))
	if tokens := r.llm.CountTokens(content); limit > 0 && tokens > limit {
		r.logger.Info("summary file over budget, condensing", "npc", npc.Name, "tokens", tokens, "limit", limit)
		condensed, err := r.summarize(ctx, r.prompts.Resummarize, npc, content)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		r.mu.Lock()
		err = writeFile(summaryPath(base, n+1), []byte(condensed+"\n\n"))
		r.mu.Unlock()
		if err != nil {
			tracer.RecordError(span, err)
			return domain.NewDomainError("Rememberer.remember", domain.ErrMemoryStore, err.Error())
		}
	}
	tracer.SetOK(span)
	return nil
}

// summarize asks the LLM to condense text with the given instructions,
// retrying with exponential backoff.
func (r *Rememberer) summarize(ctx context.Context, prompt string, npc domain.Character, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	system, err := domain.RenderTemplate(prompt, map[string]string{
		"name":     npc.Name,
		"game":     gameTitle(r.game),
		"language": r.language,
	})
	if err != nil {
		return "", err
	}
	msgs := []domain.Message{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: text},
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		out, err := r.llm.RequestCall(ctx, msgs)
		if err == nil {
			return cleanSummary(out, npc.Name), nil
		}
		lastErr = err
		r.logger.Debug("summary request failed", "npc", npc.Name, "attempt", attempt+1, "error", err)
	}
	return "", domain.NewDomainError("Rememberer.summarize", domain.ErrSummarization, lastErr.Error())
}

func (r *Rememberer) npcDir(world, name string) string {
	return filepath.Join(r.dir, sanitize(world), name)
}

func (r *Rememberer) appendHistory(base string, thread []domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(base, 0700); err != nil {
		return domain.NewDomainError("Rememberer.appendHistory", domain.ErrMemoryStore, err.Error())
	}
	path := historyPath(base)
	history, err := readHistory(path)
	if err != nil {
		return domain.NewDomainError("Rememberer.appendHistory", domain.ErrMemoryStore, err.Error())
	}
	conv := make([]historyMessage, 0, len(thread))
	for _, m := range thread {
		conv = append(conv, historyMessage{Role: m.Role, Content: m.Content})
	}
	if err := writeJSON(path, append(history, conv)); err != nil {
		return domain.NewDomainError("Rememberer.appendHistory", domain.ErrMemoryStore, err.Error())
	}
	return nil
}

// dirName names the NPC's directory. Generic NPCs share display names, so
// they are kept apart by reference id, as are same-named participants.
// readDir locates the memories of npc. An NPC that shared its name with
// another participant was saved under its ref id, which wins when present.
func (r *Rememberer) readDir(world string, npc domain.Character) string {
	if npc.RefID != "" && !npc.IsGeneric {
		byRef := r.npcDir(world, dirName(npc, true))
		if info, err := os.Stat(byRef); err == nil && info.IsDir() {
			return byRef
		}
	}
	return r.npcDir(world, dirName(npc, false))
}

func dirName(npc domain.Character, duplicate bool) string {
	name := sanitize(npc.Name)
	if (npc.IsGeneric || duplicate) && npc.RefID != "" {
		return name + " - " + sanitize(npc.RefID)
	}
	return name
}

func historyPath(base string) string {
	name := filepath.Base(base)
	return filepath.Join(base, name+".json")
}

func summaryPath(base string, n int) string {
	name := filepath.Base(base)
	return filepath.Join(base, fmt.Sprintf("%s_summary_%d.txt", name, n))
}

// latestSummary returns the highest summary number in base, 0 when none.
func latestSummary(base string) int {
	prefix := filepath.Base(base) + "_summary_"
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0
	}
	var nums []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".txt") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".txt"))
		if err == nil && n > 0 {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return 0
	}
	sort.Ints(nums)
	return nums[len(nums)-1]
}

// summaryWindow drops the greeting exchange and the farewell exchange when
// the conversation is long enough to have something in between.
func summaryWindow(thread []domain.Message) []domain.Message {
	if len(thread) > 4 {
		return thread[2 : len(thread)-2]
	}
	return thread
}

func transcriptText(msgs []domain.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

// cleanSummary rewrites the model's stock phrasing into the NPC's terms.
func cleanSummary(summary, name string) string {
	summary = strings.TrimSpace(summary)
	summary = strings.ReplaceAll(summary, "The assistant", name)
	summary = strings.ReplaceAll(summary, "the assistant", name)
	summary = strings.ReplaceAll(summary, "The user", "The player")
	summary = strings.ReplaceAll(summary, "the user", "the player")
	return summary
}

func gameTitle(g domain.Game) string {
	if g.IsFallout() {
		return "Fallout 4"
	}
	return "Skyrim"
}

// sanitize makes s safe as a single path element.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
