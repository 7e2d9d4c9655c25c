package parser

import (
	"regexp"

	"npc-voice/internal/domain"
)

// singleWordEmphasis matches *word* where word has no spaces or terminators.
var singleWordEmphasis = regexp.MustCompile(`\*([^\s*.?!:;。？！；：]+)\*`)

// italicStage removes single-word emphasis so it is not read as narration.
type italicStage struct{ cutOnly }

func (italicStage) CutSentence(output string, _ *Settings) (*domain.SentenceContent, string) {
	return nil, singleWordEmphasis.ReplaceAllString(output, "$1")
}
