package gateway

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"npc-voice/internal/domain"
	"npc-voice/internal/usecase/conversation"
)

// characters converts the actor list. Actors without a name are skipped.
func (r Request) characters() []domain.Character {
	out := make([]domain.Character, 0, len(r.Actors))
	for _, a := range r.Actors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		out = append(out, domain.Character{
			RefID:            string(a.RefID),
			BaseID:           string(a.BaseID),
			Name:             name,
			Race:             a.Race,
			Gender:           a.Gender,
			IsPlayer:         a.IsPlayer,
			Bio:              strings.TrimSpace(a.Bio),
			InCombat:         a.InCombat,
			IsEnemy:          a.IsEnemy,
			RelationshipRank: a.RelationshipRank,
			GameVoiceModel:   a.VoiceType,
			Equipment:        equipmentText(a.Equipment),
			CustomValues:     stringValues(a.CustomValues),
		})
	}
	return out
}

// update converts the game context.
func (r Request) update() conversation.Update {
	gc := r.Context
	if gc == nil {
		return conversation.Update{}
	}
	u := conversation.Update{
		Location:     strings.TrimSpace(gc.Location),
		Hour:         gc.Time,
		Weather:      strings.TrimSpace(gc.Weather),
		CustomValues: stringValues(gc.CustomValues),
	}
	for _, e := range gc.Events {
		if e = strings.TrimSpace(e); e != "" {
			u.Events = append(u.Events, e)
		}
	}
	for _, n := range gc.Nearby {
		if n.Name == "" {
			continue
		}
		u.Nearby = append(u.Nearby, domain.NearbyCharacter{Name: n.Name, RefID: string(n.RefID), Distance: n.Distance})
	}
	u.InView = visionHints(gc.InViewNames, gc.InViewDistances)
	return u
}

func (r Request) startRequest() conversation.StartRequest {
	return conversation.StartRequest{World: r.WorldID, Participants: r.characters(), Update: r.update()}
}

func (r Request) continueRequest() conversation.ContinueRequest {
	return conversation.ContinueRequest{Participants: r.characters(), Update: r.update()}
}

func (r Request) playerInput() conversation.PlayerInput {
	return conversation.PlayerInput{
		Text:         r.PlayerInput,
		Commands:     r.Commands,
		Participants: r.characters(),
		Update:       r.update(),
	}
}

var bracketItem = regexp.MustCompile(`\[([^\]]*)\]`)

// bracketList splits "[a],[b]" into its items.
func bracketList(s string) []string {
	var out []string
	for _, m := range bracketItem.FindAllStringSubmatch(s, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// visionHints pairs the bracketed name and distance lists. Extra names
// without a distance are kept at distance 0.
func visionHints(names, distances string) []domain.NearbyCharacter {
	ns := bracketList(names)
	if len(ns) == 0 {
		return nil
	}
	ds := bracketList(distances)
	out := make([]domain.NearbyCharacter, 0, len(ns))
	for i, n := range ns {
		if n == "" {
			continue
		}
		var d float64
		if i < len(ds) {
			d, _ = strconv.ParseFloat(ds[i], 64)
		}
		out = append(out, domain.NearbyCharacter{Name: n, Distance: d})
	}
	return out
}

// equipmentText renders slot/item pairs in slot order.
func equipmentText(eq map[string]string) string {
	if len(eq) == 0 {
		return ""
	}
	slots := make([]string, 0, len(eq))
	for slot, item := range eq {
		if strings.TrimSpace(item) != "" {
			slots = append(slots, slot)
		}
	}
	sort.Strings(slots)
	parts := make([]string, len(slots))
	for i, slot := range slots {
		parts[i] = slot + ": " + strings.TrimSpace(eq[slot])
	}
	return strings.Join(parts, ", ")
}

// stringValues flattens JSON custom values to strings.
func stringValues(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
