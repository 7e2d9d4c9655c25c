package characters

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
)

// Roster is the loaded character table. It is read-only after Load.
type Roster struct {
	mu      sync.RWMutex
	entries []Entry
	byName  map[string][]int
	logger  *slog.Logger
}

// NewRoster builds a roster from in-memory entries.
func NewRoster(entries []Entry, logger *slog.Logger) *Roster {
	r := &Roster{byName: make(map[string][]int), logger: logger}
	for _, e := range entries {
		r.add(e)
	}
	return r
}

// Load reads the roster CSV and every override file. A missing roster is
// not fatal: every participant is then treated as generic.
func Load(cfg config.CharactersConfig, logger *slog.Logger) (*Roster, error) {
	r := NewRoster(nil, logger)

	entries, err := readCSVFile(cfg.RosterPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("character roster not found, all NPCs are generic", "path", cfg.RosterPath)
	case err != nil:
		return nil, domain.NewDomainError("Characters.Load", domain.ErrConfigParse, err.Error())
	default:
		for _, e := range entries {
			r.add(e)
		}
	}

	if cfg.OverridesDir != "" {
		n, err := r.loadOverrides(cfg.OverridesDir)
		if err != nil {
			return nil, domain.NewDomainError("Characters.Load", domain.ErrConfigParse, err.Error())
		}
		if n > 0 {
			logger.Info("character overrides applied", "count", n, "dir", cfg.OverridesDir)
		}
	}

	logger.Info("character roster loaded", "entries", r.Len())
	return r, nil
}

// Len returns the number of roster entries.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Roster) add(e Entry) {
	key := normalizeName(e.Name)
	if key == "" {
		return
	}
	r.entries = append(r.entries, e)
	r.byName[key] = append(r.byName[key], len(r.entries)-1)
}

// applyOverride merges o into the entry it identifies. An entry whose name
// exists only under a different base id is added as a new entry rather
// than merged.
func (r *Roster) applyOverride(o Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.match(o.Name, o.BaseID, o.Race, false); ok {
		r.entries[i].mergeFrom(o)
		return
	}
	if len(r.byName[normalizeName(o.Name)]) > 0 && o.BaseID != "" {
		r.logger.Debug("override name collides with a different base id, adding entry",
			"name", o.Name, "base_id", o.BaseID)
	}
	r.add(o)
}

// match finds the best entry for (name, baseID, race). Ids are compared
// exactly first, then by hex suffix when partial is set. When no id is
// given, the name (narrowed by race) matches.
func (r *Roster) match(name, baseID, race string, partial bool) (int, bool) {
	candidates := r.byName[normalizeName(name)]
	if len(candidates) == 0 {
		return 0, false
	}

	if baseID != "" {
		want := normalizeID(baseID)
		for _, i := range candidates {
			if normalizeID(r.entries[i].BaseID) == want && want != "" {
				return i, true
			}
		}
		if partial {
			var suffix []int
			for _, i := range candidates {
				if idsMatch(r.entries[i].BaseID, baseID) {
					suffix = append(suffix, i)
				}
			}
			if i, ok := pickByRace(r.entries, suffix, race); ok {
				return i, true
			}
		}
		// An id was given and nothing carries it: entries with ids of their
		// own belong to other characters that share the name.
		var idless []int
		for _, i := range candidates {
			if r.entries[i].BaseID == "" {
				idless = append(idless, i)
			}
		}
		return pickByRace(r.entries, idless, race)
	}

	return pickByRace(r.entries, candidates, race)
}

// pickByRace returns the single candidate, or the single candidate of the
// given race.
func pickByRace(entries []Entry, candidates []int, race string) (int, bool) {
	switch len(candidates) {
	case 0:
		return 0, false
	case 1:
		return candidates[0], true
	}
	var hit []int
	for _, i := range candidates {
		if sameRace(entries[i].Race, race) {
			hit = append(hit, i)
		}
	}
	if len(hit) >= 1 {
		return hit[0], true
	}
	return candidates[0], true
}

// Lookup returns the roster entry for a game-announced character.
func (r *Roster) Lookup(c domain.Character) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.match(c.Name, c.BaseID, c.Race, true)
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Resolve fills bio and voice model from the roster. Characters without an
// entry are marked generic and keep the game's voice model. A bio supplied
// by the game wins over the roster.
func (r *Roster) Resolve(c domain.Character) domain.Character {
	if c.IsPlayer {
		return c
	}
	e, ok := r.Lookup(c)
	if !ok {
		c.IsGeneric = true
		if c.VoiceModel == "" {
			c.VoiceModel = c.GameVoiceModel
		}
		return c
	}
	c.IsGeneric = false
	if c.Bio == "" {
		c.Bio = e.Bio
	}
	if e.VoiceModel != "" {
		c.VoiceModel = e.VoiceModel
	} else if c.VoiceModel == "" {
		c.VoiceModel = c.GameVoiceModel
	}
	return c
}

// IsGeneric reports whether c has no roster entry.
func (r *Roster) IsGeneric(c domain.Character) bool {
	_, ok := r.Lookup(c)
	return !ok
}

func (r *Roster) loadOverrides(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read overrides dir: %w", err)
	}

	var names []string
	for _, f := range files {
		if !f.IsDir() {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	count := 0
	for _, name := range names {
		path := filepath.Join(dir, name)
		var entries []Entry
		switch strings.ToLower(filepath.Ext(name)) {
		case ".json":
			entries, err = readJSONFile(path)
		case ".csv":
			entries, err = readCSVFile(path)
		default:
			continue
		}
		if err != nil {
			return count, fmt.Errorf("override %s: %w", name, err)
		}
		for _, e := range entries {
			if strings.TrimSpace(e.Name) == "" {
				r.logger.Warn("override entry without a name skipped", "file", name)
				continue
			}
			r.applyOverride(e)
			count++
		}
	}
	return count, nil
}

// readJSONFile accepts a single object or an array of objects.
func readJSONFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return entries, nil
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return []Entry{e}, nil
}

func readCSVFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSV(f)
}

// readCSV parses a roster table. Columns are located by header name so
// column order and extra columns do not matter.
func readCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, errors.New("csv has no name column")
	}

	field := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []Entry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		e := Entry{
			Name:       field(rec, "name"),
			BaseID:     field(rec, "base_id"),
			RefID:      field(rec, "ref_id"),
			Race:       field(rec, "race"),
			Gender:     field(rec, "gender"),
			VoiceModel: field(rec, "voice_model"),
			Bio:        field(rec, "bio"),
		}
		if e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
