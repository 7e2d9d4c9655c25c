package parser

import (
	"strings"

	"npc-voice/internal/domain"
)

const maxNameWords = 4

// characterChangeStage detects "Name:" speaker switches in multi-NPC replies.
type characterChangeStage struct {
	cutOnly
	participants []domain.Character
}

func newCharacterChangeStage(participants *domain.Characters) *characterChangeStage {
	st := &characterChangeStage{}
	if participants != nil {
		st.participants = participants.All()
	}
	return st
}

func (st *characterChangeStage) CutSentence(output string, s *Settings) (*domain.SentenceContent, string) {
	colon := strings.Index(output, ":")
	if colon < 0 {
		return nil, output
	}
	before := output[:colon]
	starts := wordStarts(before)
	if len(starts) == 0 {
		return nil, output
	}
	for n := min(len(starts), maxNameWords); n >= 1; n-- {
		start := starts[len(starts)-n]
		candidate := strings.Trim(strings.TrimSpace(before[start:]), "*()=^`'_-")
		speaker, ok := st.match(candidate)
		if !ok {
			continue
		}
		if prefix := strings.TrimSpace(before[:start]); hasWords(prefix) {
			content := domain.NewSentenceContent(s.CurrentSpeaker, prefix, s.CurrentType, nil)
			return &content, output[start:]
		}
		if speaker.IsPlayer {
			s.StopGeneration = true
			return nil, ""
		}
		s.CurrentSpeaker = speaker
		s.TextState = TextUnmarked
		s.CurrentType = s.UnmarkedType
		return nil, strings.TrimLeft(output[colon+1:], " ")
	}
	return nil, output
}

func (st *characterChangeStage) match(candidate string) (domain.Character, bool) {
	if candidate == "" {
		return domain.Character{}, false
	}
	for _, c := range st.participants {
		if c.IsPlayer && strings.EqualFold(candidate, "player") {
			return c, true
		}
		for _, name := range []string{c.Name, c.FirstName(), c.LastName()} {
			if name != "" && strings.EqualFold(candidate, name) {
				return c, true
			}
		}
	}
	return domain.Character{}, false
}

// wordStarts returns the byte offsets where each word of s begins.
func wordStarts(s string) []int {
	var out []int
	inWord := false
	for i, r := range s {
		space := r == ' ' || r == '\t'
		if !space && !inWord {
			out = append(out, i)
		}
		inWord = !space
	}
	return out
}
