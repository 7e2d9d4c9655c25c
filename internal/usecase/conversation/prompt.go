package conversation

import (
	"fmt"
	"strings"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

const (
	memoriesUnavailable    = "NPC memories not available."
	backgroundsUnavailable = "NPC backgrounds not available."
)

// PromptRung is a step of the degradation ladder.
type PromptRung int

const (
	RungFull PromptRung = iota + 1
	RungNoMemories
	RungNoBackgrounds
)

// PromptResult is a rendered system prompt.
type PromptResult struct {
	Text string
	Rung PromptRung
	// Overflow is set when even the last rung exceeded the budget.
	Overflow bool
}

// Dropped names the categories removed to fit the budget.
func (r PromptResult) Dropped() []string {
	switch r.Rung {
	case RungNoMemories:
		return []string{"memories"}
	case RungNoBackgrounds:
		return []string{"memories", "backgrounds"}
	}
	return nil
}

// PromptBuilder renders the system prompt of a conversation and fits it to
// the token budget.
type PromptBuilder struct {
	prompts  config.PromptsConfig
	llm      domain.ConversationLLM
	limitPct float64
	memory   domain.MemoryStore
	actions  []domain.Action
}

// NewPromptBuilder creates a builder.
func NewPromptBuilder(prompts config.PromptsConfig, llm domain.ConversationLLM, limitPct float64, memory domain.MemoryStore, actions []domain.Action) *PromptBuilder {
	return &PromptBuilder{
		prompts:  prompts,
		llm:      llm,
		limitPct: limitPct,
		memory:   memory,
		actions:  actions,
	}
}

// template picks the prompt for the conversation shape.
func (b *PromptBuilder) template(cs *domain.Characters) string {
	switch {
	case cs.IsRadiant():
		return b.prompts.Radiant
	case cs.IsMultiNPC():
		return b.prompts.Multi
	default:
		return b.prompts.Single
	}
}

// Build renders the prompt, descending the ladder while the result is over
// budget. The last rung is returned even when it still overflows.
func (b *PromptBuilder) Build(cc *Context) (PromptResult, error) {
	tmpl := b.template(cc.Characters())
	values := b.Values(cc)

	rungs := []PromptRung{RungFull, RungNoMemories, RungNoBackgrounds}
	var result PromptResult
	for _, rung := range rungs {
		applyRung(values, rung)
		text, err := domain.RenderTemplate(tmpl, values)
		if err != nil {
			return PromptResult{}, err
		}
		result = PromptResult{Text: strings.TrimSpace(text), Rung: rung}
		if !b.llm.IsTextTooLong(result.Text, b.limitPct) {
			return result, nil
		}
	}
	result.Overflow = true
	return result, nil
}

func applyRung(values map[string]string, rung PromptRung) {
	if rung >= RungNoMemories {
		values["conversation_summary"] = memoriesUnavailable
		values["conversation_summaries"] = memoriesUnavailable
	}
	if rung >= RungNoBackgrounds {
		values["bio"] = backgroundsUnavailable
		values["bios"] = backgroundsUnavailable
	}
}

// Values fills every placeholder from the context.
func (b *PromptBuilder) Values(cc *Context) map[string]string {
	cs := cc.Characters()
	npcs := cs.NPCs()

	v := map[string]string{
		"location":   cc.Location(),
		"weather":    cc.Weather(),
		"time":       "",
		"time_group": TimeGroup(cc.Hour()),
		"language":   cc.Language(),
		"game":       gameTitle(cc.Game()),
		"actions":    b.actionText(cs),
	}
	if cc.Hour() >= 0 {
		v["time"] = fmt.Sprint(hour12(cc.Hour()))
	}

	playerName := "the player"
	if p := cs.Player(); p != nil {
		playerName = p.Name
		v["player_description"] = p.Bio
		if p.Equipment != "" {
			v["player_equipment"] = fmt.Sprintf("%s is wearing %s.", p.Name, p.Equipment)
		}
	}
	v["player_name"] = playerName

	names := make([]string, 0, len(npcs))
	var bios, summaries, equipment []string
	for _, npc := range npcs {
		names = append(names, npc.Name)
		bios = append(bios, fmt.Sprintf("%s: %s", npc.Name, npc.Bio))
		if s := b.summaries(cc, npc); s != "" {
			summaries = append(summaries, fmt.Sprintf("%s: %s", npc.Name, s))
		}
		if npc.Equipment != "" {
			equipment = append(equipment, fmt.Sprintf("%s is wearing %s.", npc.Name, npc.Equipment))
		}
	}
	v["names"] = joinNames(names)
	v["names_w_player"] = joinNames(append(append([]string(nil), names...), playerName))
	v["bios"] = strings.Join(bios, "\n")
	v["conversation_summaries"] = strings.Join(summaries, "\n")
	v["equipment"] = strings.Join(equipment, " ")

	if len(npcs) > 0 {
		npc := npcs[0]
		v["name"] = npc.Name
		v["bio"] = npc.Bio
		v["trust"] = cc.TrustOf(npc)
		if s := b.summaries(cc, npc); s != "" {
			v["conversation_summary"] = "Below is a summary of your previous conversations:\n" + s
		}
	}
	return v
}

func (b *PromptBuilder) summaries(cc *Context, npc domain.Character) string {
	if b.memory == nil || npc.IsGeneric {
		return ""
	}
	return strings.TrimSpace(b.memory.Summaries(cc.World(), npc))
}

// actionText lists the prompt hints of the actions offered in this
// conversation shape.
func (b *PromptBuilder) actionText(cs *domain.Characters) string {
	var lines []string
	for _, a := range OfferedActions(b.actions, cs) {
		if a.PromptText != "" {
			lines = append(lines, a.PromptText)
		}
	}
	return strings.Join(lines, "\n")
}

// OfferedActions filters actions by the conversation shape.
func OfferedActions(actions []domain.Action, cs *domain.Characters) []domain.Action {
	radiant, multi := cs.IsRadiant(), cs.IsMultiNPC()
	var out []domain.Action
	for _, a := range actions {
		if a.AppliesTo(radiant, multi) {
			out = append(out, a)
		}
	}
	return out
}

// joinNames renders "A", "A and B" or "A, B and C".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}

func gameTitle(g domain.Game) string {
	if g.IsFallout() {
		return "Fallout 4"
	}
	return "Skyrim"
}
