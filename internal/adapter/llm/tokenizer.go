package llm

import (
	"log/slog"
	"os"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"

	"npc-voice/internal/domain"
)

// Per-message framing overhead of the chat format: every message costs
// three tokens plus its fields, and the reply is primed with three more.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	tokensPerReply   = 3
)

// countCacheSize bounds the memoized counts. Bios, summaries and the thread
// are recounted on every prompt fit, so most lookups hit.
const countCacheSize = 4096

var _ domain.TokenCounter = (*Tokenizer)(nil)

// Tokenizer counts tokens with a tiktoken BPE. When the encoding cannot be
// loaded (offline first run, unknown name) it estimates four characters per
// token so prompt fitting still works, only less precisely.
type Tokenizer struct {
	encoding string

	mu     sync.Mutex // serializes encode
	encode func(string) int
	counts *lru.Cache[string, int]
}

// NewTokenizer loads encoding. cacheDir, when set, is where the BPE file is
// cached between runs.
func NewTokenizer(encoding, cacheDir string, logger *slog.Logger) *Tokenizer {
	if cacheDir != "" && os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
		if err := os.MkdirAll(cacheDir, 0o700); err == nil {
			os.Setenv("TIKTOKEN_CACHE_DIR", cacheDir)
		}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating token counts", "encoding", encoding, "error", err)
		return &Tokenizer{encoding: encoding}
	}
	return newExactTokenizer(encoding, func(s string) int { return len(enc.EncodeOrdinary(s)) })
}

func newExactTokenizer(encoding string, encode func(string) int) *Tokenizer {
	counts, err := lru.New[string, int](countCacheSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &Tokenizer{encoding: encoding, encode: encode, counts: counts}
}

// NewEstimatingTokenizer returns a Tokenizer that only estimates.
func NewEstimatingTokenizer() *Tokenizer {
	return &Tokenizer{encoding: "estimate"}
}

// Exact reports whether counts come from the BPE rather than the estimate.
func (t *Tokenizer) Exact() bool { return t.encode != nil }

// CountText implements domain.TokenCounter.
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.encode == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	if n, ok := t.counts.Get(text); ok {
		return n
	}
	t.mu.Lock()
	n := t.encode(text)
	t.mu.Unlock()
	t.counts.Add(text, n)
	return n
}

// CountMessages implements domain.TokenCounter.
func (t *Tokenizer) CountMessages(msgs []domain.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage + t.CountText(m.Role) + t.CountText(m.Content)
		if m.Name != "" {
			total += tokensPerName + t.CountText(m.Name)
		}
	}
	return total
}
