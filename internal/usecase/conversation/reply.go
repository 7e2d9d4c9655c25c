package conversation

import "npc-voice/internal/domain"

// State is the turn state of a conversation.
type State int

const (
	StateIdle State = iota
	StateGreeting
	StateAwaitingPlayer
	StateNPCResponding
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGreeting:
		return "greeting"
	case StateAwaitingPlayer:
		return "awaiting_player"
	case StateNPCResponding:
		return "npc_responding"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ReplyKind selects the envelope sent back to the game.
type ReplyKind int

const (
	ReplyNPCTalk ReplyKind = iota + 1
	ReplyNPCAction
	ReplyPlayerTalk
	ReplyError
	ReplyEnd
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNPCTalk:
		return "npc_talk"
	case ReplyNPCAction:
		return "npc_action"
	case ReplyPlayerTalk:
		return "player_talk"
	case ReplyError:
		return "error"
	case ReplyEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Reply is the outcome of one turn.
type Reply struct {
	Kind     ReplyKind
	Sentence domain.Sentence
	// TopicID alternates 1 and 2 across delivered voicelines.
	TopicID int
	// Message and Code describe a ReplyError.
	Message string
	Code    domain.ErrorCode
}

// StartRequest opens a conversation.
type StartRequest struct {
	World        string
	Participants []domain.Character
	Update       Update
}

// ContinueRequest polls for the next sentence.
type ContinueRequest struct {
	Participants []domain.Character
	Update       Update
}

// PlayerInput delivers what the player said.
type PlayerInput struct {
	Text string
	// Commands are action-command tags the game attached to the input.
	Commands     []string
	Participants []domain.Character
	Update       Update
}
