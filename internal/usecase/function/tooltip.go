package function

import (
	"fmt"
	"strings"

	"npc-voice/internal/domain"
)

// Built-in tooltips assembled from the live conversation.
const (
	TooltipNPCTargets   = "npc_targets"
	TooltipParticipants = "participants"
	TooltipLootModes    = "loot_modes"
	TooltipInventories  = "inventories"
)

// inventoryKey is the actor custom value the game fills with carried items.
const inventoryKey = "inventory"

// lootModes are the item categories the game's loot function understands.
var lootModes = []string{"any", "weapons", "armor", "consumables", "junk"}

// targetTable resolves the names and ids the LLM may use to refer to a
// character into reference ids.
type targetTable struct {
	sources map[string]string
	targets map[string]string
}

func newTargetTable(req domain.FunctionRequest) *targetTable {
	t := &targetTable{sources: make(map[string]string), targets: make(map[string]string)}
	add := func(m map[string]string, name, refID string) {
		if refID == "" {
			return
		}
		m[strings.ToLower(refID)] = refID
		if name != "" {
			m[strings.ToLower(name)] = refID
		}
	}
	for _, c := range req.Participants {
		if c.IsPlayer {
			add(t.targets, c.Name, c.RefID)
			continue
		}
		add(t.sources, c.Name, c.RefID)
		add(t.targets, c.Name, c.RefID)
	}
	for _, n := range req.Nearby {
		add(t.targets, n.Name, n.RefID)
	}
	return t
}

// resolve maps every reference to an id. ok is false when any reference
// is unknown.
func resolve(table map[string]string, refs []string) ([]string, bool) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, found := table[strings.ToLower(strings.TrimSpace(ref))]
		if !found {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

// tooltipText renders the named tooltip for req, or "" when it has no
// content.
func (r *Registry) tooltipText(name string, req domain.FunctionRequest) string {
	switch name {
	case TooltipNPCTargets:
		var lines []string
		for _, c := range req.Participants {
			if c.RefID != "" {
				lines = append(lines, fmt.Sprintf("- %s (id %s, in conversation)", c.Name, c.RefID))
			}
		}
		for _, n := range req.Nearby {
			if n.RefID != "" {
				lines = append(lines, fmt.Sprintf("- %s (id %s, %.0f units away)", n.Name, n.RefID, n.Distance))
			}
		}
		if len(lines) == 0 {
			return ""
		}
		return "Characters that can be targeted:\n" + strings.Join(lines, "\n")
	case TooltipParticipants:
		var lines []string
		for _, c := range req.Participants {
			if !c.IsPlayer && c.RefID != "" {
				lines = append(lines, fmt.Sprintf("- %s (id %s)", c.Name, c.RefID))
			}
		}
		if len(lines) == 0 {
			return ""
		}
		return "Characters that can act:\n" + strings.Join(lines, "\n")
	case TooltipLootModes:
		return "Loot modes: " + strings.Join(lootModes, ", ")
	case TooltipInventories:
		var lines []string
		for _, c := range req.Participants {
			items := strings.TrimSpace(c.CustomValues[inventoryKey])
			if items == "" {
				continue
			}
			who := c.Name
			if c.IsPlayer {
				who += " (player)"
			}
			lines = append(lines, fmt.Sprintf("- %s carries: %s", who, items))
		}
		if len(lines) == 0 {
			return ""
		}
		return "Items carried:\n" + strings.Join(lines, "\n")
	}
	if t, ok := r.tooltips[name]; ok {
		if len(t.Modes) == 0 {
			return t.Text
		}
		modes := "Modes: " + strings.Join(t.Modes, ", ")
		if t.Text == "" {
			return modes
		}
		return t.Text + "\n" + modes
	}
	if v := strings.TrimSpace(req.CustomValues[name]); v != "" {
		return fmt.Sprintf("%s: %s", name, v)
	}
	return ""
}

// modeTable collects the modes offered by the tooltips of def, keyed by
// their lower-case form. It is nil when def offers no mode table.
func (r *Registry) modeTable(def *Definition) map[string]string {
	var table map[string]string
	for _, name := range def.Tooltips {
		modes := r.tooltips[name].Modes
		if name == TooltipLootModes {
			modes = lootModes
		}
		for _, m := range modes {
			if table == nil {
				table = make(map[string]string)
			}
			table[strings.ToLower(m)] = m
		}
	}
	return table
}
