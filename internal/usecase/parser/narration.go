package parser

import (
	"strings"
	"unicode/utf8"

	"npc-voice/internal/domain"
)

// narrationStage tracks explicit narration and speech markers.
type narrationStage struct {
	cutOnly
	narrationStart []string
	narrationEnd   []string
	speechStart    []string
	speechEnd      []string
}

func contains(list []string, marker string) bool {
	for _, m := range list {
		if m == marker {
			return true
		}
	}
	return false
}

func (st *narrationStage) opener(marker string) (TextState, bool) {
	switch {
	case contains(st.narrationStart, marker):
		return TextMarkedNarration, true
	case contains(st.speechStart, marker):
		return TextMarkedSpeech, true
	}
	return TextUnmarked, false
}

func (st *narrationStage) closes(state TextState, marker string) bool {
	if state == TextMarkedNarration {
		return contains(st.narrationEnd, marker)
	}
	return contains(st.speechEnd, marker)
}

func markedType(state TextState) domain.SentenceType {
	if state == TextMarkedNarration {
		return domain.SentenceNarration
	}
	return domain.SentenceSpeech
}

func (st *narrationStage) CutSentence(output string, s *Settings) (*domain.SentenceContent, string) {
	for i := 0; i < len(output); {
		r, size := utf8.DecodeRuneInString(output[i:])
		marker := string(r)

		if s.TextState == TextUnmarked {
			if state, ok := st.opener(marker); ok {
				if hasWords(output[:i]) {
					return st.emit(output[:i], s.UnmarkedType, s), output[i:]
				}
				s.TextState = state
				s.CurrentType = markedType(state)
				output = output[i+size:]
				i = 0
				continue
			}
			i += size
			continue
		}

		typ := markedType(s.TextState)
		if st.closes(s.TextState, marker) {
			content := output[:i]
			s.TextState = TextUnmarked
			if typ == domain.SentenceNarration {
				s.UnmarkedType = domain.SentenceSpeech
			} else {
				s.UnmarkedType = domain.SentenceNarration
			}
			s.CurrentType = s.UnmarkedType
			if hasWords(content) {
				return st.emit(content, typ, s), output[i+size:]
			}
			output = output[i+size:]
			i = 0
			continue
		}
		if _, ok := st.opener(marker); ok {
			// Mismatched markers: resync on this opener.
			s.TextState = TextUnmarked
			s.CurrentType = s.UnmarkedType
			if hasWords(output[:i]) {
				return st.emit(output[:i], typ, s), output[i:]
			}
			output = output[i:]
			i = 0
			continue
		}
		i += size
	}

	if s.TextState == TextUnmarked {
		s.CurrentType = s.UnmarkedType
	} else {
		s.CurrentType = markedType(s.TextState)
	}
	return nil, output
}

func (st *narrationStage) emit(text string, typ domain.SentenceType, s *Settings) *domain.SentenceContent {
	content := domain.NewSentenceContent(s.CurrentSpeaker, strings.TrimSpace(text), typ, nil)
	return &content
}
