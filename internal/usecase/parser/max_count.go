package parser

import "npc-voice/internal/domain"

// maxCountStage stops generation once the reply would exceed its sentence cap.
type maxCountStage struct {
	modifyOnly
	limit int
	// skipNarration excludes narration from the count when it is cut anyway.
	skipNarration bool
	count         int
}

func (st *maxCountStage) counts(c *domain.SentenceContent) bool {
	return c != nil && !(st.skipNarration && c.Type == domain.SentenceNarration)
}

func (st *maxCountStage) ModifySentenceContent(cut, last *domain.SentenceContent, s *Settings) (*domain.SentenceContent, *domain.SentenceContent) {
	if st.counts(cut) {
		st.count++
	}
	if st.limit > 0 && st.counts(last) && st.count+1 >= st.limit {
		s.StopGeneration = true
	}
	return cut, last
}
