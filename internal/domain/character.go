package domain

import (
	"strings"
)

// Character is one participant of a conversation, as announced by the game.
type Character struct {
	RefID            string            `json:"ref_id"`
	BaseID           string            `json:"base_id,omitempty"`
	Name             string            `json:"name"`
	Race             string            `json:"race,omitempty"`
	Gender           int               `json:"gender"`
	IsPlayer         bool              `json:"is_player"`
	Bio              string            `json:"bio,omitempty"`
	InCombat         bool              `json:"in_combat"`
	IsEnemy          bool              `json:"is_enemy"`
	RelationshipRank int               `json:"relationship_rank"`
	VoiceModel       string            `json:"voice_model,omitempty"`
	GameVoiceModel   string            `json:"game_voice_model,omitempty"`
	Equipment        string            `json:"equipment,omitempty"`
	IsGeneric        bool              `json:"is_generic,omitempty"`
	CustomValues     map[string]string `json:"custom_values,omitempty"`
}

// FirstName returns the first whitespace-separated word of the name.
func (c Character) FirstName() string {
	if f := strings.Fields(c.Name); len(f) > 0 {
		return f[0]
	}
	return c.Name
}

// LastName returns the last word of a multi-word name, or "" for single words.
func (c Character) LastName() string {
	f := strings.Fields(c.Name)
	if len(f) < 2 {
		return ""
	}
	return f[len(f)-1]
}

// Pronouns returns subject, object and possessive pronouns. A "pronouns"
// custom value of the form "she/her/her" wins over the gender flag.
func (c Character) Pronouns() (subject, object, possessive string) {
	if raw, ok := c.CustomValues["pronouns"]; ok {
		parts := strings.Split(raw, "/")
		if len(parts) == 3 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		}
	}
	switch c.Gender {
	case 0:
		return "he", "him", "his"
	case 1:
		return "she", "her", "her"
	default:
		return "they", "them", "their"
	}
}

// NearbyCharacter is an NPC close to the player but not in the conversation.
type NearbyCharacter struct {
	Name     string  `json:"name"`
	RefID    string  `json:"ref_id,omitempty"`
	Distance float64 `json:"distance"`
}

// Characters is the ordered, name-unique participant set of a conversation.
type Characters struct {
	list   []Character
	nearby []NearbyCharacter
	last   string
}

// NewCharacters creates an empty participant set.
func NewCharacters() *Characters {
	return &Characters{}
}

// AddOrUpdate inserts c, or replaces the participant with the same name.
// A second player is ignored; returns false in that case.
func (cs *Characters) AddOrUpdate(c Character) bool {
	for i := range cs.list {
		if cs.list[i].Name == c.Name {
			cs.list[i] = c
			return true
		}
	}
	if c.IsPlayer && cs.Player() != nil {
		return false
	}
	cs.list = append(cs.list, c)
	cs.last = c.Name
	return true
}

// Remove drops the participant with the given name.
func (cs *Characters) Remove(name string) {
	for i := range cs.list {
		if cs.list[i].Name == name {
			cs.list = append(cs.list[:i], cs.list[i+1:]...)
			if cs.last == name {
				cs.last = ""
			}
			return
		}
	}
}

// Get returns the participant with the given name.
func (cs *Characters) Get(name string) (Character, bool) {
	for _, c := range cs.list {
		if c.Name == name {
			return c, true
		}
	}
	return Character{}, false
}

// Contains reports whether name is a participant.
func (cs *Characters) Contains(name string) bool {
	_, ok := cs.Get(name)
	return ok
}

// All returns a copy of the participants in insertion order.
func (cs *Characters) All() []Character {
	out := make([]Character, len(cs.list))
	copy(out, cs.list)
	return out
}

// NPCs returns every non-player participant.
func (cs *Characters) NPCs() []Character {
	var out []Character
	for _, c := range cs.list {
		if !c.IsPlayer {
			out = append(out, c)
		}
	}
	return out
}

// Player returns the player participant or nil.
func (cs *Characters) Player() *Character {
	for i := range cs.list {
		if cs.list[i].IsPlayer {
			c := cs.list[i]
			return &c
		}
	}
	return nil
}

// Len returns the number of participants, player included.
func (cs *Characters) Len() int { return len(cs.list) }

// LastAdded returns the most recently inserted participant.
func (cs *Characters) LastAdded() (Character, bool) {
	if cs.last == "" {
		return Character{}, false
	}
	return cs.Get(cs.last)
}

// IsRadiant reports an NPC-only conversation.
func (cs *Characters) IsRadiant() bool {
	return cs.Player() == nil
}

// IsMultiNPC reports more than one NPC in the conversation.
func (cs *Characters) IsMultiNPC() bool {
	return len(cs.NPCs()) > 1
}

// SetNearby replaces the nearby list wholesale.
func (cs *Characters) SetNearby(nearby []NearbyCharacter) {
	cs.nearby = append([]NearbyCharacter(nil), nearby...)
}

// Nearby returns a copy of the nearby NPC list.
func (cs *Characters) Nearby() []NearbyCharacter {
	out := make([]NearbyCharacter, len(cs.nearby))
	copy(out, cs.nearby)
	return out
}

// Names returns the display names of every participant.
func (cs *Characters) Names() []string {
	out := make([]string, 0, len(cs.list))
	for _, c := range cs.list {
		out = append(out, c.Name)
	}
	return out
}
