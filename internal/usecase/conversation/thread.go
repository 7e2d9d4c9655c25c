package conversation

import (
	"time"

	"npc-voice/internal/domain"
)

// Thread is the message history sent to the LLM. Entry 0 is always the
// current system prompt.
type Thread struct {
	msgs []domain.Message
}

// NewThread starts a thread with the given system prompt.
func NewThread(system string) *Thread {
	return &Thread{msgs: []domain.Message{newMessage(domain.RoleSystem, system)}}
}

func newMessage(role, content string) domain.Message {
	return domain.Message{Role: role, Content: content, Timestamp: time.Now()}
}

// SetSystem replaces the system prompt.
func (t *Thread) SetSystem(system string) {
	t.msgs[0] = newMessage(domain.RoleSystem, system)
}

// System returns the current system prompt.
func (t *Thread) System() string { return t.msgs[0].Content }

// Append adds a message after the existing ones. Empty content is ignored.
func (t *Thread) Append(role, content string) {
	if content == "" {
		return
	}
	t.msgs = append(t.msgs, newMessage(role, content))
}

// Messages returns a copy of the thread.
func (t *Thread) Messages() []domain.Message {
	return append([]domain.Message(nil), t.msgs...)
}

// Transcript returns every message after the system prompt.
func (t *Thread) Transcript() []domain.Message {
	return append([]domain.Message(nil), t.msgs[1:]...)
}

// Len returns the number of messages, system prompt included.
func (t *Thread) Len() int { return len(t.msgs) }

// LastUserMessage returns the content of the latest user message.
func (t *Thread) LastUserMessage() string {
	for i := len(t.msgs) - 1; i > 0; i-- {
		if t.msgs[i].Role == domain.RoleUser {
			return t.msgs[i].Content
		}
	}
	return ""
}

// Reset truncates the thread to a new system prompt and a synthetic
// greeting.
func (t *Thread) Reset(system, greeting string) {
	t.msgs = []domain.Message{newMessage(domain.RoleSystem, system)}
	t.Append(domain.RoleUser, greeting)
}
