package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
)

var (
	player = domain.Character{Name: "Dragonborn", RefID: "14", IsPlayer: true}
	guard  = domain.Character{Name: "Guard", RefID: "1a2b"}
	lydia  = domain.Character{Name: "Lydia", RefID: "a2c94"}
)

func participants(cs ...domain.Character) *domain.Characters {
	out := domain.NewCharacters()
	for _, c := range cs {
		out.AddOrUpdate(c)
	}
	return out
}

func run(t *testing.T, p *Pipeline, chunks ...string) []domain.SentenceContent {
	t.Helper()
	var out []domain.SentenceContent
	for _, c := range chunks {
		if p.Stopped() {
			break
		}
		out = append(out, p.Feed(c)...)
	}
	return append(out, p.Finish()...)
}

func texts(sentences []domain.SentenceContent) []string {
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		out = append(out, s.Text)
	}
	return out
}

func TestNarrationCut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarrationHandling = domain.CutNarrations
	p := NewPipeline(cfg, participants(player, guard), nil, guard)

	got := run(t, p, "(The ", "guard ", "sighs.) ", "Okay, ", "move ", "along.")

	assert.Equal(t, []string{"Okay, move along.", ""}, texts(got))
	for _, s := range got {
		assert.Equal(t, domain.SentenceSpeech, s.Type)
		assert.Equal(t, "Guard", s.Speaker.Name)
	}
}

func TestNarrationNarrator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarrationHandling = domain.UseNarrator
	p := NewPipeline(cfg, participants(player, guard), nil, guard)

	got := run(t, p, "(The ", "guard ", "sighs.) ", "Okay, ", "move ", "along.")

	require.Len(t, got, 3)
	assert.Equal(t, []string{"The guard sighs.", "Okay, move along.", ""}, texts(got))
	assert.Equal(t, domain.SentenceNarration, got[0].Type)
	assert.Equal(t, domain.SentenceSpeech, got[1].Type)
	assert.Equal(t, domain.SentenceSpeech, got[2].Type)
}

func TestCharacterSwitch(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, guard, lydia), nil, guard)

	got := run(t, p, "Guard: ", "Watch ", "out! ", "Lydia: ", "On ", "it.")

	require.Len(t, got, 3)
	assert.Equal(t, "Watch out!", got[0].Text)
	assert.Equal(t, "Guard", got[0].Speaker.Name)
	assert.Equal(t, "On it.", got[1].Text)
	assert.Equal(t, "Lydia", got[1].Speaker.Name)
	assert.Equal(t, "", got[2].Text)
	assert.Equal(t, "Lydia", got[2].Speaker.Name)
}

func TestInterruptingAction(t *testing.T) {
	actions := []domain.Action{
		{Identifier: "menu", Keyword: "Menu", IsInterrupting: true},
		{Identifier: "wave", Keyword: "Wave"},
	}
	p := NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia)

	got := run(t, p, "Menu: ", "Here ", "is ", "what ", "I ", "have.", " Ignore ", "this ", "part.")

	require.Len(t, got, 2)
	assert.Equal(t, "Here is what I have.", got[0].Text)
	assert.Equal(t, []string{"menu"}, got[0].Actions)
	assert.Equal(t, "", got[1].Text)
	assert.True(t, p.Stopped())
}

func TestPlayerNameStopsGeneration(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, lydia), nil, lydia)

	got := run(t, p, "I am sworn to carry your burdens. ", "Dragonborn: ", "Thanks, Lydia.")

	assert.True(t, p.Stopped())
	assert.Equal(t, []string{"I am sworn to carry your burdens.", ""}, texts(got))
}

func TestPlayerKeywordStopsGeneration(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, lydia), nil, lydia)

	got := run(t, p, "Lead the way. Player: Okay.")

	assert.True(t, p.Stopped())
	assert.Equal(t, []string{"Lead the way.", ""}, texts(got))
}

func TestPrefixBeforeNameGoesToPreviousSpeaker(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, guard, lydia), nil, guard)

	got := run(t, p, "Halt right there Lydia: I serve the Jarl.")

	require.Len(t, got, 3)
	assert.Equal(t, "Halt right there", got[0].Text)
	assert.Equal(t, "Guard", got[0].Speaker.Name)
	assert.Equal(t, "I serve the Jarl.", got[1].Text)
	assert.Equal(t, "Lydia", got[1].Speaker.Name)
}

func TestShortSentencesMerge(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, lydia), nil, lydia)

	got := run(t, p, "I will follow you anywhere. Yes. Agreed.")

	assert.Equal(t, []string{"I will follow you anywhere. Yes. Agreed.", ""}, texts(got))
}

func TestMergeRespectsMaxCharacters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCharacters = 30
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "Follow me to the tower now. Yes.")

	assert.Equal(t, []string{"Follow me to the tower now.", "Yes.", ""}, texts(got))
}

func TestMaxSentences(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSentencesSingle = 2
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "This is the first one. ", "This is the second one. ", "This is the third one. ", "This is the fourth one.")

	assert.True(t, p.Stopped())
	assert.Equal(t, []string{"This is the first one.", "This is the second one.", ""}, texts(got))
}

func TestRadiantIgnoresMaxSentences(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSentencesSingle = 1
	cfg.MaxSentencesMulti = 1
	cfg.Radiant = true
	p := NewPipeline(cfg, participants(guard, lydia), nil, guard)

	got := run(t, p, "This is the first one. ", "This is the second one. ", "This is the third one.")

	assert.False(t, p.Stopped())
	assert.Len(t, got, 4)
}

func TestLongSentenceIsWrapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWords = 1
	cfg.MaxCharacters = 500
	body := strings.Repeat("word ", 100) // 500 chars
	input := strings.TrimRight(body, " ") + "!."
	require.Equal(t, 501, len(input))

	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)
	got := run(t, p, input)

	require.GreaterOrEqual(t, len(got), 3)
	assert.LessOrEqual(t, runeLen(got[0].Text), 375)
	for _, s := range got {
		assert.LessOrEqual(t, runeLen(s.Text), 500)
	}
	assert.Equal(t, "", got[len(got)-1].Text)
}

func TestNoSentenceBeforeTerminator(t *testing.T) {
	p := NewPipeline(DefaultConfig(), participants(player, lydia), nil, lydia)

	assert.Empty(t, p.Feed("I am still "))
	assert.Empty(t, p.Feed("thinking about it"))
	assert.Equal(t, []string{"I am still thinking about it", ""}, texts(p.Finish()))
}

func TestMinWordsMergesSpans(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinWords = 3
	cfg.MinWordsTTS = 1
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "Oh. ", "I see now. ", "Good.")

	assert.Equal(t, []string{"Oh. I see now.", "Good.", ""}, texts(got))
}

func TestActionKeywordAttachesToNextSentence(t *testing.T) {
	actions := []domain.Action{
		{Identifier: "follow", Keyword: "Follow"},
		{Identifier: "wave", Keyword: "Wave"},
	}
	p := NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia)

	got := run(t, p, "Follow: Wave: Lead on, my thane.")

	require.Len(t, got, 2)
	assert.Equal(t, "Lead on, my thane.", got[0].Text)
	assert.Equal(t, []string{"follow", "wave"}, got[0].Actions)
}

func TestKeywordIsCaseSensitive(t *testing.T) {
	actions := []domain.Action{{Identifier: "follow", Keyword: "Follow"}}
	p := NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia)

	got := run(t, p, "follow: me now, please.")

	assert.Empty(t, got[0].Actions)
}

func TestItalicSingleWord(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarrationHandling = domain.UseNarrator
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "That is *very* kind of you.")

	require.Len(t, got, 2)
	assert.Equal(t, "That is very kind of you.", got[0].Text)
	assert.Equal(t, domain.SentenceSpeech, got[0].Type)
}

func TestSpeechAfterNarrationFlipsPolarity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarrationHandling = domain.UseNarrator
	cfg.MinWordsTTS = 1
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "=Welcome home.= She smiles warmly.")

	require.Len(t, got, 3)
	assert.Equal(t, domain.SentenceSpeech, got[0].Type)
	assert.Equal(t, "She smiles warmly.", got[1].Text)
	assert.Equal(t, domain.SentenceNarration, got[1].Type)
}

func TestMismatchedMarkersResync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarrationHandling = domain.UseNarrator
	cfg.MinWordsTTS = 1
	p := NewPipeline(cfg, participants(player, lydia), nil, lydia)

	got := run(t, p, "*She draws her sword (and steps forward.) Stay back!")

	require.Len(t, got, 4)
	assert.Equal(t, "She draws her sword", got[0].Text)
	assert.Equal(t, domain.SentenceNarration, got[0].Type)
	assert.Equal(t, "and steps forward.", got[1].Text)
	assert.Equal(t, domain.SentenceNarration, got[1].Type)
	assert.Equal(t, "Stay back!", got[2].Text)
	assert.Equal(t, domain.SentenceSpeech, got[2].Type)
}

func TestParseIsIdempotent(t *testing.T) {
	actions := []domain.Action{{Identifier: "follow", Keyword: "Follow"}}
	input := []string{"Follow: ", "Well, well, well. ", "As an AI language model, ", "I **really** think so."}

	first := run(t, NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia), input...)
	second := run(t, NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia), input...)
	assert.Equal(t, first, second)

	// Re-parsing the released text changes nothing.
	for _, s := range first[:len(first)-1] {
		again := run(t, NewPipeline(DefaultConfig(), participants(player, lydia), actions, lydia), s.Text)
		assert.Equal(t, s.Text, again[0].Text)
	}
}
