// Package parser turns a streamed LLM reply into attributed sentences.
//
// An Accumulator buffers raw tokens until a sentence terminator arrives and
// hands fragments to a Chain of eight fixed stages: clean, italic stripper,
// character change, action keywords, narration markers, sentence end,
// length merge and max count. Pipeline glues both together for one reply.
package parser

import (
	"npc-voice/internal/domain"
)

// DefaultTerminators are the sentence terminators used when none are configured.
const DefaultTerminators = ".?!:;。？！；："

const (
	minMaxCharacters = 30
	wrapRatio        = 0.75
)

// Config tunes the chain for one reply.
type Config struct {
	Terminators        string
	MinWords           int
	MaxCharacters      int
	MinWordsTTS        int
	MaxSentencesSingle int
	MaxSentencesMulti  int
	NarrationStart     []string
	NarrationEnd       []string
	SpeechStart        []string
	SpeechEnd          []string
	NarrationHandling  domain.NarrationHandling

	// Conversation shape, set per reply.
	Radiant  bool
	MultiNPC bool
}

// DefaultConfig returns the stock parser settings.
func DefaultConfig() Config {
	return Config{
		Terminators:        DefaultTerminators,
		MinWords:           1,
		MaxCharacters:      500,
		MinWordsTTS:        3,
		MaxSentencesSingle: 4,
		MaxSentencesMulti:  8,
		NarrationStart:     []string{"^", "(", "*"},
		NarrationEnd:       []string{"`", ")", "*"},
		SpeechStart:        []string{"="},
		SpeechEnd:          []string{"="},
		NarrationHandling:  domain.CutNarrations,
	}
}

// normalized applies the numeric floors of the chain.
func (c Config) normalized() Config {
	if c.Terminators == "" {
		c.Terminators = DefaultTerminators
	}
	if c.MinWords < 1 {
		c.MinWords = 1
	}
	if c.MaxCharacters < minMaxCharacters {
		c.MaxCharacters = minMaxCharacters
	}
	if c.NarrationHandling == "" {
		c.NarrationHandling = domain.CutNarrations
	}
	return c
}

// maxSentences returns the sentence cap for the conversation shape; 0 means none.
func (c Config) maxSentences() int {
	if c.Radiant {
		return 0
	}
	if c.MultiNPC {
		return c.MaxSentencesMulti
	}
	return c.MaxSentencesSingle
}
