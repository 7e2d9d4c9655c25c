package parser

import (
	"strings"

	"npc-voice/internal/domain"
)

// actionStage strips leading "Keyword:" prefixes and queues their actions.
type actionStage struct {
	cutOnly
	actions []domain.Action
}

func (st *actionStage) CutSentence(output string, s *Settings) (*domain.SentenceContent, string) {
	for {
		trimmed := strings.TrimLeft(output, " ")
		matched := false
		for _, a := range st.actions {
			if a.Keyword == "" || !strings.HasPrefix(trimmed, a.Keyword+":") {
				continue
			}
			s.PendingActions = domain.UnionActions(s.PendingActions, []string{a.Identifier})
			output = strings.TrimLeft(trimmed[len(a.Keyword)+1:], " ")
			matched = true
			break
		}
		if !matched {
			return nil, output
		}
	}
}
