package parser

import "npc-voice/internal/domain"

// TextState tracks whether the chain is inside explicit markers.
type TextState int

const (
	TextUnmarked TextState = iota
	TextMarkedSpeech
	TextMarkedNarration
)

// Settings is the state shared by every stage of a chain.
type Settings struct {
	CurrentSpeaker domain.Character
	CurrentType    domain.SentenceType
	UnmarkedType   domain.SentenceType
	TextState      TextState
	StopGeneration bool

	// PendingActions are keyword actions waiting for the next cut sentence.
	PendingActions []string
	// Flushing is set while the end-of-stream residue is processed.
	Flushing bool
}

// Stage is one step of the chain.
type Stage interface {
	// CutSentence may bite a sentence off output and returns the unconsumed rest.
	CutSentence(output string, s *Settings) (*domain.SentenceContent, string)
	// ModifySentenceContent may merge or rewrite after a cut. cut is the
	// sentence about to be released, last the one currently held back.
	ModifySentenceContent(cut, last *domain.SentenceContent, s *Settings) (*domain.SentenceContent, *domain.SentenceContent)
}

// cutOnly provides a pass-through ModifySentenceContent.
type cutOnly struct{}

func (cutOnly) ModifySentenceContent(cut, last *domain.SentenceContent, _ *Settings) (*domain.SentenceContent, *domain.SentenceContent) {
	return cut, last
}

// modifyOnly provides a pass-through CutSentence.
type modifyOnly struct{}

func (modifyOnly) CutSentence(output string, _ *Settings) (*domain.SentenceContent, string) {
	return nil, output
}
