package parser

import "npc-voice/internal/domain"

// lengthMergeStage holds one sentence back and folds short followers into it
// so the synthesizer never gets fragments of a couple of words.
type lengthMergeStage struct {
	modifyOnly
	minWordsTTS   int
	maxCharacters int
}

func (st *lengthMergeStage) ModifySentenceContent(cut, last *domain.SentenceContent, _ *Settings) (*domain.SentenceContent, *domain.SentenceContent) {
	if cut == nil {
		return nil, last
	}
	if last == nil {
		return nil, cut
	}
	if st.mergeable(cut, last) {
		merged := *last
		merged.AppendOther(cut.Text, cut.Actions)
		return nil, &merged
	}
	return last, cut
}

func (st *lengthMergeStage) mergeable(cut, last *domain.SentenceContent) bool {
	if cut.Text == "" || countWords(cut.Text) >= st.minWordsTTS {
		return false
	}
	if cut.Speaker.Name != last.Speaker.Name || cut.Type != last.Type {
		return false
	}
	return runeLen(last.Text)+1+runeLen(cut.Text) <= st.maxCharacters
}
