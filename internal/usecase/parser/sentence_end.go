package parser

import (
	"strings"

	"npc-voice/internal/domain"
)

// sentenceEndStage cuts the first terminated span with enough words.
type sentenceEndStage struct {
	cutOnly
	terminators   terminatorSet
	minWords      int
	maxCharacters int
}

func (st *sentenceEndStage) CutSentence(output string, s *Settings) (*domain.SentenceContent, string) {
	end := -1
	for from := 0; from < len(output); {
		rel := st.terminators.firstEnd(output[from:])
		if rel < 0 {
			break
		}
		pos := from + rel
		if countWords(output[:pos]) >= st.minWords {
			end = pos
			break
		}
		from = pos
	}
	if end < 0 && s.Flushing && hasWords(output) {
		end = len(output)
	}
	if end < 0 {
		if runeLen(output) > st.maxCharacters {
			return st.wrap(output, s)
		}
		return nil, output
	}

	span := output[:end]
	if runeLen(strings.TrimSpace(span)) > st.maxCharacters {
		return st.wrap(output, s)
	}
	if !hasWords(span) {
		return nil, output[end:]
	}
	content := domain.NewSentenceContent(s.CurrentSpeaker, strings.TrimSpace(span), s.CurrentType, nil)
	return &content, output[end:]
}

func (st *sentenceEndStage) wrap(output string, s *Settings) (*domain.SentenceContent, string) {
	trimmed := strings.TrimLeft(output, " ")
	head, tail := wrapAt(trimmed, int(float64(st.maxCharacters)*wrapRatio))
	content := domain.NewSentenceContent(s.CurrentSpeaker, strings.TrimSpace(head), s.CurrentType, nil)
	return &content, tail
}
