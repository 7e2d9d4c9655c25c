package conversation

import (
	"errors"
	"log/slog"
	"time"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

// CharacterResolver completes a game-announced character from the roster.
type CharacterResolver interface {
	Resolve(c domain.Character) domain.Character
}

// CoreServices is everything a conversation needs, built once at startup
// and shared by every conversation.
type CoreServices struct {
	Config  *config.Config
	LLM     domain.ConversationLLM
	TTS     domain.TTS
	Memory  domain.MemoryStore
	Roster  CharacterResolver
	Actions []domain.Action

	// Functions is nil when function inference is disabled.
	Functions  domain.FunctionDispatcher
	Bus        domain.EventBus
	Classifier *ErrorClassifier
	Logger     *slog.Logger

	// Backoff overrides the retry delay; nil uses exponential backoff.
	Backoff func(attempt int) time.Duration
}

// Validate checks the required collaborators and fills optional ones.
func (s *CoreServices) Validate() error {
	var errs []error
	if s.Config == nil {
		errs = append(errs, errors.New("config is required"))
	}
	if s.LLM == nil {
		errs = append(errs, errors.New("llm client is required"))
	}
	if s.TTS == nil {
		errs = append(errs, errors.New("tts is required"))
	}
	if s.Memory == nil {
		errs = append(errs, errors.New("memory store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return domain.WrapOp("CoreServices.Validate", errors.Join(domain.ErrInvalidInput, err))
	}
	if s.Classifier == nil {
		s.Classifier = NewErrorClassifier()
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Backoff == nil {
		s.Backoff = retryBackoff
	}
	return nil
}

func (s *CoreServices) resolve(c domain.Character) domain.Character {
	if s.Roster == nil {
		return c
	}
	return s.Roster.Resolve(c)
}
