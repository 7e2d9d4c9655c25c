package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a function for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a function.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FunctionRequest is the slice of a turn the function dispatcher reasons
// about.
type FunctionRequest struct {
	ConversationID string
	Game           Game
	Participants   []Character
	Nearby         []NearbyCharacter
	Messages       []Message
	// Flags are the named context flags function conditions are evaluated on.
	Flags map[string]bool
	// CustomValues carries game-supplied context such as inventories.
	CustomValues map[string]string
}

// FunctionCall is a function choice resolved against the live tooltips.
type FunctionCall struct {
	Function string
	Payload  ActionPayload
}

// FunctionDispatcher asks the function LLM to choose a game action. It
// returns nil without error when no function applies.
type FunctionDispatcher interface {
	Infer(ctx context.Context, req FunctionRequest) (*FunctionCall, error)
}
