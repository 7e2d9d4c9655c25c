package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"npc-voice/internal/domain"
)

// Request types, accepted with or without the "mantella_" prefix.
const (
	RequestStart    = "start_conversation"
	RequestContinue = "continue_conversation"
	RequestPlayer   = "player_input"
	RequestEnd      = "end_conversation"
)

const requestPrefix = "mantella_"

// Request is one JSON document posted by the game.
type Request struct {
	RequestType    string       `json:"mantella_request_type"`
	ConversationID string       `json:"mantella_conversation_id,omitempty"`
	WorldID        string       `json:"mantella_world_id,omitempty"`
	Actors         []Actor      `json:"mantella_actors,omitempty"`
	Context        *GameContext `json:"mantella_context,omitempty"`
	PlayerInput    string       `json:"mantella_player_input,omitempty"`
	Commands       []string     `json:"mantella_player_commands,omitempty"`
}

// Type returns the request type without the optional prefix.
func (r Request) Type() string {
	return strings.TrimPrefix(strings.TrimSpace(r.RequestType), requestPrefix)
}

// Actor is a conversation participant as the game describes it.
type Actor struct {
	RefID            FormID            `json:"mantella_ref_id"`
	BaseID           FormID            `json:"mantella_base_id"`
	Name             string            `json:"mantella_name"`
	Race             string            `json:"mantella_race"`
	Gender           int               `json:"mantella_gender"`
	IsPlayer         bool              `json:"mantella_is_player_character"`
	Bio              string            `json:"mantella_bio,omitempty"`
	RelationshipRank int               `json:"mantella_relationship_rank"`
	VoiceType        string            `json:"mantella_voicetype"`
	InCombat         bool              `json:"mantella_is_in_combat"`
	IsEnemy          bool              `json:"mantella_is_enemy"`
	Equipment        map[string]string `json:"mantella_actor_equipment,omitempty"`
	CustomValues     map[string]any    `json:"mantella_custom_values,omitempty"`
}

// NearbyActor is an NPC close to the player that is not in the conversation.
type NearbyActor struct {
	Name     string  `json:"name"`
	RefID    FormID  `json:"ref_id"`
	Distance float64 `json:"distance"`
}

// GameContext is the world state attached to a request.
type GameContext struct {
	Location string        `json:"mantella_location,omitempty"`
	Time     *int          `json:"mantella_time,omitempty"`
	Weather  string        `json:"mantella_weather,omitempty"`
	Events   []string      `json:"mantella_ingame_events,omitempty"`
	Nearby   []NearbyActor `json:"mantella_nearby_npcs,omitempty"`
	// Vision hints arrive as bracketed lists: "[Lydia],[Guard]" and "[120.5],[800]".
	InViewNames     string         `json:"mantella_actors_in_view,omitempty"`
	InViewDistances string         `json:"mantella_actor_distances,omitempty"`
	CustomValues    map[string]any `json:"mantella_custom_values,omitempty"`
}

// FormID is a game form id. The game sends numbers; config files and
// tests often use strings.
type FormID string

// UnmarshalJSON accepts a JSON string or number.
func (f *FormID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FormID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("form id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*f = FormID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = FormID(n.String())
	return nil
}

// Reply types.
const (
	ReplyNPCTalk    = "npc_talk"
	ReplyNPCAction  = "npc_action"
	ReplyPlayerTalk = "player_talk"
	ReplyError      = "error"
	ReplyEnd        = "end"
)

// Response is the envelope returned for every request.
type Response struct {
	ReplyType      string     `json:"mantella_reply_type"`
	ConversationID string     `json:"mantella_conversation_id,omitempty"`
	NPCTalk        *NPCTalk   `json:"npc_talk,omitempty"`
	NPCAction      *NPCAction `json:"npc_action,omitempty"`
	Error          *ErrorBody `json:"error,omitempty"`
}

// NPCTalk is a voiceline to play.
type NPCTalk struct {
	Speaker         string   `json:"speaker"`
	VoiceFilePath   string   `json:"voice_file_path"`
	LineToSpeak     string   `json:"line_to_speak"`
	DurationSeconds float64  `json:"duration_seconds"`
	IsNarration     bool     `json:"is_narration"`
	TopicID         int      `json:"topic_id"`
	Actions         []Action `json:"actions"`
}

// NPCAction is an action without speech.
type NPCAction struct {
	Speaker string   `json:"speaker"`
	Actions []Action `json:"actions"`
}

// ErrorBody describes a failed request or turn.
type ErrorBody struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// Action is an action payload. Keyword actions without arguments travel
// as a bare identifier string.
type Action domain.ActionPayload

// MarshalJSON writes a bare string when there are no arguments.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Arguments == nil {
		return json.Marshal(a.Identifier)
	}
	return json.Marshal(domain.ActionPayload(a))
}

// UnmarshalJSON accepts both shapes.
func (a *Action) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		a.Arguments = nil
		return json.Unmarshal(data, &a.Identifier)
	}
	var p domain.ActionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Action(p)
	return nil
}

func actionsOf(payloads []domain.ActionPayload) []Action {
	out := make([]Action, len(payloads))
	for i, p := range payloads {
		out[i] = Action(p)
	}
	return out
}
