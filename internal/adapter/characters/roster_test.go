package characters

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

const rosterCSV = `name,voice_model,bio,race,base_id,ref_id,gender
Lydia,FemaleEvenToned,"Lydia is a housecarl of Whiterun.",Nord,000A2C94,000A2C8E,Female
Nazeem,MaleEvenToned,Nazeem is an arrogant farmer.,Redguard,00013BBF,00013BBE,Male
Guard,MaleGuard,A Whiterun guard.,Nord,0001A697,,Male
Guard,FemaleGuard,A Solitude guard.,Imperial,0002B0E8,,Female
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func loadTestRoster(t *testing.T, overrides map[string]string) *Roster {
	t.Helper()
	dir := t.TempDir()
	roster := filepath.Join(dir, "characters.csv")
	writeFile(t, roster, rosterCSV)
	for name, content := range overrides {
		writeFile(t, filepath.Join(dir, "character_overrides", name), content)
	}
	r, err := Load(config.CharactersConfig{
		RosterPath:   roster,
		OverridesDir: filepath.Join(dir, "character_overrides"),
	}, slog.Default())
	require.NoError(t, err)
	return r
}

func TestIDsMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"000A2C94", "a2c94", true},
		{"0x000A2C94", "000A2C94", true},
		{"FE0A2C94", "000A2C94", true}, // last 6
		{"FE012C94", "000A2C94", true}, // last 4
		{"FE012F94", "000A2C94", false},
		{"000A2C94", "", false},
		{"0000", "0000", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, idsMatch(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestLoadRoster(t *testing.T) {
	r := loadTestRoster(t, nil)
	assert.Equal(t, 4, r.Len())

	e, ok := r.Lookup(domain.Character{Name: "lydia", BaseID: "A2C94"})
	require.True(t, ok)
	assert.Equal(t, "FemaleEvenToned", e.VoiceModel)
	assert.Equal(t, "Lydia is a housecarl of Whiterun.", e.Bio)
}

func TestLookupPartialID(t *testing.T) {
	r := loadTestRoster(t, nil)

	// Load-order prefixed id from a merged plugin.
	e, ok := r.Lookup(domain.Character{Name: "Nazeem", BaseID: "FE013BBF"})
	require.True(t, ok)
	assert.Equal(t, "MaleEvenToned", e.VoiceModel)
}

func TestLookupDisambiguatesByIDAndRace(t *testing.T) {
	r := loadTestRoster(t, nil)

	e, ok := r.Lookup(domain.Character{Name: "Guard", BaseID: "0002B0E8"})
	require.True(t, ok)
	assert.Equal(t, "FemaleGuard", e.VoiceModel)

	e, ok = r.Lookup(domain.Character{Name: "Guard", Race: "Imperial"})
	require.True(t, ok)
	assert.Equal(t, "FemaleGuard", e.VoiceModel)

	_, ok = r.Lookup(domain.Character{Name: "Guard", BaseID: "00099999"})
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	r := loadTestRoster(t, nil)

	lydia := r.Resolve(domain.Character{Name: "Lydia", BaseID: "000A2C94", GameVoiceModel: "FemaleEvenTonedVanilla"})
	assert.False(t, lydia.IsGeneric)
	assert.Equal(t, "FemaleEvenToned", lydia.VoiceModel)
	assert.Equal(t, "Lydia is a housecarl of Whiterun.", lydia.Bio)

	custom := r.Resolve(domain.Character{Name: "Lydia", BaseID: "000A2C94", Bio: "A retired adventurer."})
	assert.Equal(t, "A retired adventurer.", custom.Bio)

	bandit := r.Resolve(domain.Character{Name: "Bandit Marauder", GameVoiceModel: "MaleBrute"})
	assert.True(t, bandit.IsGeneric)
	assert.Equal(t, "MaleBrute", bandit.VoiceModel)
	assert.True(t, r.IsGeneric(domain.Character{Name: "Bandit Marauder"}))

	player := r.Resolve(domain.Character{Name: "Lydia", IsPlayer: true})
	assert.False(t, player.IsGeneric)
	assert.Empty(t, player.VoiceModel)
}

func TestOverridesMerge(t *testing.T) {
	r := loadTestRoster(t, map[string]string{
		"lydia.json": `{"name": "Lydia", "base_id": "000A2C94", "bio": "Lydia is sworn to carry your burdens."}`,
		"extra.csv":  "name,base_id,voice_model,bio\nNazeem,00013BBF,MaleCondescending,\n",
	})
	assert.Equal(t, 4, r.Len())

	e, ok := r.Lookup(domain.Character{Name: "Lydia", BaseID: "000A2C94"})
	require.True(t, ok)
	assert.Equal(t, "Lydia is sworn to carry your burdens.", e.Bio)
	assert.Equal(t, "FemaleEvenToned", e.VoiceModel)

	e, ok = r.Lookup(domain.Character{Name: "Nazeem", BaseID: "00013BBF"})
	require.True(t, ok)
	assert.Equal(t, "MaleCondescending", e.VoiceModel)
	assert.Equal(t, "Nazeem is an arrogant farmer.", e.Bio)
}

func TestOverrideNameCollisionDoesNotMerge(t *testing.T) {
	// Same name, different character: the suffix 2c94 matches but the
	// override must not be folded into the vanilla Lydia.
	r := loadTestRoster(t, map[string]string{
		"modded.json": `[{"name": "Lydia", "base_id": "FE012C94", "voice_model": "FemaleYoungEager", "bio": "A modded Lydia."}]`,
	})
	assert.Equal(t, 5, r.Len())

	vanilla, ok := r.Lookup(domain.Character{Name: "Lydia", BaseID: "000A2C94"})
	require.True(t, ok)
	assert.Equal(t, "Lydia is a housecarl of Whiterun.", vanilla.Bio)

	modded, ok := r.Lookup(domain.Character{Name: "Lydia", BaseID: "FE012C94"})
	require.True(t, ok)
	assert.Equal(t, "A modded Lydia.", modded.Bio)
}

func TestLoadMissingRoster(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(config.CharactersConfig{
		RosterPath:   filepath.Join(dir, "missing.csv"),
		OverridesDir: filepath.Join(dir, "missing_overrides"),
	}, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.IsGeneric(domain.Character{Name: "Lydia"}))
}

func TestLoadInvalidOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "overrides", "broken.json"), `{"name": `)
	_, err := Load(config.CharactersConfig{
		RosterPath:   filepath.Join(dir, "missing.csv"),
		OverridesDir: filepath.Join(dir, "overrides"),
	}, slog.Default())
	assert.ErrorIs(t, err, domain.ErrConfigParse)
}

func TestReadCSV(t *testing.T) {
	entries, err := readCSV(strings.NewReader("\ufeffName, Bio\nUthgerd, \"Uthgerd the Unbroken, a Nord warrior.\"\n,skipped\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Uthgerd", entries[0].Name)
	assert.Equal(t, "Uthgerd the Unbroken, a Nord warrior.", entries[0].Bio)

	_, err = readCSV(strings.NewReader("bio,race\nx,y\n"))
	assert.Error(t, err)

	entries, err = readCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
