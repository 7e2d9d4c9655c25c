package conversation

import (
	"fmt"
	"sort"
	"strings"

	"npc-voice/internal/domain"
)

// Update is the environment the game reports with every request.
type Update struct {
	Location string
	// Hour is the in-game hour 0..23; nil when the game did not report it.
	Hour         *int
	Weather      string
	Events       []string
	Nearby       []domain.NearbyCharacter
	InView       []domain.NearbyCharacter
	CustomValues map[string]string
}

// HasHour reports whether the update carries an in-game hour.
func (u Update) HasHour() bool { return u.Hour != nil && *u.Hour >= 0 && *u.Hour <= 23 }

// Context is the world state of one conversation. It is not safe for
// concurrent use; the owning Conversation serializes access.
type Context struct {
	world      string
	game       domain.Game
	language   string
	hourly     bool
	characters *domain.Characters
	memory     domain.MemoryStore

	location   string
	weather    string
	hour       int
	events     []string
	custom     map[string]string
	visionHint string

	haveActorsChanged bool
	started           bool
}

// NewContext creates the context of a conversation in world.
func NewContext(world string, game domain.Game, language string, hourly bool, memory domain.MemoryStore) *Context {
	return &Context{
		world:      world,
		game:       game,
		language:   language,
		hourly:     hourly,
		characters: domain.NewCharacters(),
		memory:     memory,
		location:   game.DefaultLocation(),
		hour:       -1,
		custom:     make(map[string]string),
	}
}

// World returns the save-game world id.
func (c *Context) World() string { return c.world }

// Game returns the host game.
func (c *Context) Game() domain.Game { return c.game }

// Language returns the conversation language.
func (c *Context) Language() string { return c.language }

// Characters returns the participant set.
func (c *Context) Characters() *domain.Characters { return c.characters }

// Location returns the current location.
func (c *Context) Location() string { return c.location }

// Weather returns the current weather description.
func (c *Context) Weather() string { return c.weather }

// Hour returns the in-game hour, or -1 when unknown.
func (c *Context) Hour() int { return c.hour }

// CustomValues returns a copy of the custom context values.
func (c *Context) CustomValues() map[string]string {
	out := make(map[string]string, len(c.custom))
	for k, v := range c.custom {
		out[k] = v
	}
	return out
}

// VisionHint returns the last in-view summary.
func (c *Context) VisionHint() string { return c.visionHint }

// HaveActorsChanged reports whether the participant set changed since the
// last ClearActorsChanged.
func (c *Context) HaveActorsChanged() bool { return c.haveActorsChanged }

// ClearActorsChanged resets the participant dirty flag.
func (c *Context) ClearActorsChanged() { c.haveActorsChanged = false }

// Events returns the pending in-game events.
func (c *Context) Events() []string { return append([]string(nil), c.events...) }

// AddEvents appends in-game event lines.
func (c *Context) AddEvents(events ...string) {
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			c.events = append(c.events, e)
		}
	}
}

// TakeEvents returns the pending events formatted for the next user
// message and clears them.
func (c *Context) TakeEvents() string {
	if len(c.events) == 0 {
		return ""
	}
	lines := make([]string, len(c.events))
	for i, e := range c.events {
		lines[i] = "*" + strings.Trim(e, "*") + "*"
	}
	c.events = nil
	return strings.Join(lines, "\n")
}

// Apply folds an environment update into the context and derives the
// events describing what changed.
func (c *Context) Apply(u Update) {
	if u.Location != "" && u.Location != c.location {
		if c.started {
			c.events = append(c.events, fmt.Sprintf("The location is now %s.", u.Location))
		}
		c.location = u.Location
	}

	if u.HasHour() && *u.Hour != c.hour {
		hour := *u.Hour
		if c.hour >= 0 {
			if c.hourly {
				c.events = append(c.events, fmt.Sprintf("The time is %d %s.", hour12(hour), TimeGroup(hour)))
			} else if TimeGroup(hour) != TimeGroup(c.hour) {
				c.events = append(c.events, fmt.Sprintf("The conversation now takes place %s.", TimeGroup(hour)))
			}
		}
		c.hour = hour
	}

	if u.Weather != "" && u.Weather != c.weather {
		if c.weather != "" {
			c.events = append(c.events, weatherProse(u.Weather))
		}
		c.weather = u.Weather
	}

	if u.Nearby != nil {
		c.characters.SetNearby(u.Nearby)
	}
	for k, v := range u.CustomValues {
		c.custom[k] = v
	}

	if len(u.InView) > 0 {
		c.visionHint = VisionHint(u.InView)
		c.events = append(c.events, c.visionHint)
	}

	c.AddEvents(u.Events...)
	c.started = true
}

// AddOrUpdateCharacters replaces the participant set with list and records
// who left, who joined and how the remaining participants changed.
func (c *Context) AddOrUpdateCharacters(list []domain.Character) {
	incoming := make(map[string]bool, len(list))
	for _, ch := range list {
		incoming[ch.Name] = true
	}

	for _, existing := range c.characters.All() {
		if !incoming[existing.Name] {
			c.characters.Remove(existing.Name)
			c.events = append(c.events, fmt.Sprintf("%s has left the conversation.", existing.Name))
			c.haveActorsChanged = true
		}
	}

	for _, ch := range list {
		prev, ok := c.characters.Get(ch.Name)
		if !c.characters.AddOrUpdate(ch) {
			continue
		}
		if !ok {
			c.haveActorsChanged = true
			if c.started && !ch.IsPlayer {
				c.events = append(c.events, fmt.Sprintf("%s has joined the conversation.", ch.Name))
			}
			continue
		}
		c.events = append(c.events, c.characterDeltas(prev, ch)...)
	}
}

func (c *Context) characterDeltas(prev, next domain.Character) []string {
	if next.IsPlayer {
		return nil
	}
	var out []string
	if prev.InCombat != next.InCombat {
		if next.InCombat {
			out = append(out, fmt.Sprintf("%s is now in combat!", next.Name))
		} else {
			out = append(out, fmt.Sprintf("%s is no longer in combat.", next.Name))
		}
	}

	player := c.characters.Player()
	if player == nil {
		return out
	}
	if prev.IsEnemy != next.IsEnemy {
		subject, object, _ := next.Pronouns()
		if next.IsEnemy {
			out = append(out, fmt.Sprintf("%s is attacking %s. This is either because %s is an enemy or %s has attacked %s.",
				next.Name, player.Name, subject, player.Name, object))
		} else {
			out = append(out, fmt.Sprintf("%s is no longer attacking %s.", next.Name, player.Name))
		}
	}
	if prev.RelationshipRank != next.RelationshipRank {
		out = append(out, fmt.Sprintf("%s is now %s to %s.", player.Name, c.TrustOf(next), next.Name))
	}
	return out
}

// TrustOf returns the trust label of npc towards the player.
func (c *Context) TrustOf(npc domain.Character) string {
	count := 0
	if c.memory != nil {
		count = c.memory.ConversationCount(c.world, npc)
	}
	return Trust(npc.RelationshipRank, count)
}

// TimeGroup names the part of day of hour.
func TimeGroup(hour int) string {
	switch {
	case hour < 0:
		return ""
	case hour < 5:
		return "at night"
	case hour < 12:
		return "in the morning"
	case hour < 18:
		return "in the afternoon"
	case hour < 22:
		return "in the evening"
	default:
		return "at night"
	}
}

func hour12(hour int) int {
	if h := hour % 12; h != 0 {
		return h
	}
	return 12
}

func weatherProse(weather string) string {
	weather = strings.TrimSpace(weather)
	if strings.HasSuffix(weather, ".") {
		return weather
	}
	return fmt.Sprintf("The weather is now %s.", weather)
}

// distanceCategory buckets a game distance.
func distanceCategory(d float64) string {
	switch {
	case d < 150:
		return "very close"
	case d < 500:
		return "close"
	case d < 1000:
		return "medium"
	case d < 2500:
		return "far"
	default:
		return "very far"
	}
}

// VisionHint summarizes which characters are in view, nearest first.
func VisionHint(inView []domain.NearbyCharacter) string {
	sorted := append([]domain.NearbyCharacter(nil), inView...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = fmt.Sprintf("%s (%s)", n.Name, distanceCategory(n.Distance))
	}
	return "Characters currently in view: " + strings.Join(parts, ", ")
}
