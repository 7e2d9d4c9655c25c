package parser

import (
	"strings"

	"npc-voice/internal/domain"
)

// Chain runs the fixed stage order over cleaned fragments of one reply.
// It is not safe for concurrent use.
type Chain struct {
	cfg          Config
	stages       []Stage
	merge        *lengthMergeStage
	settings     Settings
	held         *domain.SentenceContent
	interrupting map[string]bool
}

// NewChain builds a chain for one reply spoken initially by speaker.
func NewChain(cfg Config, participants *domain.Characters, actions []domain.Action, speaker domain.Character) *Chain {
	cfg = cfg.normalized()
	merge := &lengthMergeStage{minWordsTTS: cfg.MinWordsTTS, maxCharacters: cfg.MaxCharacters}
	c := &Chain{
		cfg:          cfg,
		merge:        merge,
		interrupting: make(map[string]bool),
		settings: Settings{
			CurrentSpeaker: speaker,
			CurrentType:    domain.SentenceSpeech,
			UnmarkedType:   domain.SentenceSpeech,
		},
	}
	for _, a := range actions {
		if a.IsInterrupting {
			c.interrupting[a.Identifier] = true
		}
	}
	c.stages = []Stage{
		cleanStage{},
		italicStage{},
		newCharacterChangeStage(participants),
		&actionStage{actions: actions},
		&narrationStage{
			narrationStart: cfg.NarrationStart,
			narrationEnd:   cfg.NarrationEnd,
			speechStart:    cfg.SpeechStart,
			speechEnd:      cfg.SpeechEnd,
		},
		&sentenceEndStage{
			terminators:   terminatorSet(cfg.Terminators),
			minWords:      cfg.MinWords,
			maxCharacters: cfg.MaxCharacters,
		},
		merge,
		&maxCountStage{
			limit:         cfg.maxSentences(),
			skipNarration: cfg.NarrationHandling == domain.CutNarrations,
		},
	}
	return c
}

// Settings returns a snapshot of the shared chain state.
func (c *Chain) Settings() Settings { return c.settings }

// Stopped reports whether the chain asked the producer to stop the stream.
func (c *Chain) Stopped() bool { return c.settings.StopGeneration }

// Process cuts as many sentences from text as possible. It returns the
// released sentences and the text no stage could consume.
func (c *Chain) Process(text string) ([]domain.SentenceContent, string) {
	var out []domain.SentenceContent
	for !c.settings.StopGeneration {
		var cut *domain.SentenceContent
		for _, st := range c.stages {
			cut, text = st.CutSentence(text, &c.settings)
			if c.settings.StopGeneration || cut != nil {
				break
			}
		}
		if c.settings.StopGeneration {
			return out, ""
		}
		if cut == nil {
			return out, text
		}
		out = append(out, c.release(cut)...)
	}
	return out, ""
}

// Flush processes the end-of-stream residue, releases the held sentence and
// terminates the reply with an empty speech sentinel.
func (c *Chain) Flush(residue string) []domain.SentenceContent {
	var out []domain.SentenceContent
	if strings.TrimSpace(residue) != "" && !c.settings.StopGeneration {
		c.settings.Flushing = true
		out, _ = c.Process(residue)
		c.settings.Flushing = false
	}
	if c.held != nil {
		out = append(out, c.filter(c.held)...)
		c.held = nil
	}
	sentinel := domain.NewSentenceContent(c.settings.CurrentSpeaker, "", domain.SentenceSpeech, nil)
	return append(out, sentinel)
}

func (c *Chain) release(cut *domain.SentenceContent) []domain.SentenceContent {
	if len(c.settings.PendingActions) > 0 {
		cut.Actions = domain.UnionActions(c.settings.PendingActions, cut.Actions)
		c.settings.PendingActions = nil
	}
	emit, held := cut, c.held
	for _, st := range c.stages {
		emit, held = st.ModifySentenceContent(emit, held, &c.settings)
	}
	c.held = held
	if c.held != nil && c.isInterrupting(c.held) {
		c.settings.StopGeneration = true
	}
	if emit == nil {
		return nil
	}
	return c.filter(emit)
}

func (c *Chain) filter(s *domain.SentenceContent) []domain.SentenceContent {
	if s.Type == domain.SentenceNarration && c.cfg.NarrationHandling == domain.CutNarrations {
		return nil
	}
	return []domain.SentenceContent{*s}
}

func (c *Chain) isInterrupting(s *domain.SentenceContent) bool {
	for _, a := range s.Actions {
		if c.interrupting[a] {
			return true
		}
	}
	return false
}
