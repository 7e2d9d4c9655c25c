package domain

import "strings"

// SentenceType classifies how a sentence is delivered.
type SentenceType int

const (
	SentenceSpeech SentenceType = iota
	SentenceNarration
)

func (t SentenceType) String() string {
	if t == SentenceNarration {
		return "narration"
	}
	return "speech"
}

// SentenceContent is the LLM-layer unit produced by the parser chain.
type SentenceContent struct {
	Speaker           Character
	Text              string
	Type              SentenceType
	Actions           []string
	IsSystemGenerated bool
}

// NewSentenceContent builds a content value with a copied action list.
func NewSentenceContent(speaker Character, text string, typ SentenceType, actions []string) SentenceContent {
	return SentenceContent{
		Speaker: speaker,
		Text:    text,
		Type:    typ,
		Actions: UnionActions(nil, actions),
	}
}

// AppendOther joins other's text with a space and unions its actions.
func (s *SentenceContent) AppendOther(text string, actions []string) {
	text = strings.TrimSpace(text)
	switch {
	case s.Text == "":
		s.Text = text
	case text != "":
		s.Text = s.Text + " " + text
	}
	s.Actions = UnionActions(s.Actions, actions)
}

// HasAction reports whether identifier is attached.
func (s SentenceContent) HasAction(identifier string) bool {
	for _, a := range s.Actions {
		if a == identifier {
			return true
		}
	}
	return false
}

// UnionActions appends the identifiers of b missing from a, preserving order.
func UnionActions(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ActionPayload is an action delivered to the game. Arguments is nil for
// legacy keyword actions.
type ActionPayload struct {
	Identifier string           `json:"identifier"`
	Arguments  *ActionArguments `json:"arguments,omitempty"`
}

// ActionArguments carries resolved function-call targets.
type ActionArguments struct {
	Source []string `json:"source,omitempty"`
	Target []string `json:"target,omitempty"`
	Mode   []string `json:"mode,omitempty"`
}

// Sentence is a synthesized SentenceContent. It is built once and never
// mutated; the With* methods return copies.
type Sentence struct {
	Content       SentenceContent
	VoiceFile     string
	Duration      float64
	Error         string
	ErrorCode     ErrorCode
	FunctionCalls []ActionPayload
}

// NewSentence creates a sentence from synthesized content.
func NewSentence(content SentenceContent, voiceFile string, duration float64) Sentence {
	return Sentence{Content: content, VoiceFile: voiceFile, Duration: duration}
}

// NewErrorSentence creates a sentence whose synthesis failed.
func NewErrorSentence(content SentenceContent, err error) Sentence {
	return Sentence{Content: content, Error: err.Error(), ErrorCode: ErrorCodeOf(err)}
}

// Failed reports whether synthesis of the sentence failed.
func (s Sentence) Failed() bool { return s.Error != "" }

// WithFunctionCalls returns a copy carrying the given resolved calls in
// addition to the existing ones.
func (s Sentence) WithFunctionCalls(calls ...ActionPayload) Sentence {
	out := s
	out.Content.Actions = append([]string(nil), s.Content.Actions...)
	out.FunctionCalls = append(append([]ActionPayload(nil), s.FunctionCalls...), calls...)
	return out
}

// WithoutAction returns a copy with identifier removed from the keyword actions.
func (s Sentence) WithoutAction(identifier string) Sentence {
	out := s
	out.Content.Actions = nil
	for _, a := range s.Content.Actions {
		if a != identifier {
			out.Content.Actions = append(out.Content.Actions, a)
		}
	}
	out.FunctionCalls = append([]ActionPayload(nil), s.FunctionCalls...)
	return out
}

// Payloads returns every action attached to the sentence in delivery form.
func (s Sentence) Payloads() []ActionPayload {
	out := make([]ActionPayload, 0, len(s.Content.Actions)+len(s.FunctionCalls))
	for _, id := range s.Content.Actions {
		out = append(out, ActionPayload{Identifier: id})
	}
	return append(out, s.FunctionCalls...)
}

// Action is a static keyword action descriptor, loaded once at startup.
type Action struct {
	Identifier     string `json:"identifier" yaml:"identifier"`
	Name           string `json:"name" yaml:"name"`
	Keyword        string `json:"keyword" yaml:"keyword"`
	Description    string `json:"description" yaml:"description"`
	PromptText     string `json:"prompt_text" yaml:"prompt_text"`
	IsInterrupting bool   `json:"is_interrupting" yaml:"is_interrupting"`
	UseInOneOnOne  bool   `json:"use_in_one_on_one" yaml:"use_in_one_on_one"`
	UseInMultiNPC  bool   `json:"use_in_multi_npc" yaml:"use_in_multi_npc"`
	UseInRadiant   bool   `json:"use_in_radiant" yaml:"use_in_radiant"`
	InfoText       string `json:"info_text,omitempty" yaml:"info_text,omitempty"`
}

// AppliesTo reports whether the action is offered in the given conversation shape.
func (a Action) AppliesTo(radiant, multiNPC bool) bool {
	switch {
	case radiant:
		return a.UseInRadiant
	case multiNPC:
		return a.UseInMultiNPC
	default:
		return a.UseInOneOnOne
	}
}

// NarrationHandling selects what happens to narration sentences.
type NarrationHandling string

const (
	UseNarrator   NarrationHandling = "use_narrator"
	CutNarrations NarrationHandling = "cut_narrations"
)
