package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"npc-voice/internal/domain"
)

var (
	assistantPreamble = regexp.MustCompile(`(?i)^(\s*as an? [^,.!?:;]*\b(?:ai|assistant|language model|chatbot)\b[^,.!?:;]*,\s*)+`)
	wellWellWell      = regexp.MustCompile(`(?i)\bwell(?:, well){2,}\b`)
	bracketReplacer   = strings.NewReplacer("[", "(", "{", "(", "]", ")", "}", ")")
	newlineReplacer   = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// Clean normalizes raw LLM text. It is idempotent: Clean(Clean(s)) == Clean(s).
// Text is composed to NFC first, since tokens may carry a base letter and its
// combining accent separately and the byte limits of the game count bytes.
func Clean(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, `"`, "")
	text = strings.ReplaceAll(text, "**", "")
	text = newlineReplacer.Replace(text)
	text = bracketReplacer.Replace(text)
	text = wellWellWell.ReplaceAllStringFunc(text, func(run string) string {
		return strings.ReplaceAll(run, ", ", " ")
	})
	return assistantPreamble.ReplaceAllString(text, "")
}

type cleanStage struct{ cutOnly }

func (cleanStage) CutSentence(output string, _ *Settings) (*domain.SentenceContent, string) {
	return nil, Clean(output)
}
