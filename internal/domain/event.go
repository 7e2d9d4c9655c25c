package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConversationStarted EventType = "conversation.started"
	EventConversationEnded   EventType = "conversation.ended"
	EventConversationReload  EventType = "conversation.reload"
	EventTurnStarted         EventType = "turn.started"
	EventSentenceQueued      EventType = "sentence.queued"
	EventStreamCompleted     EventType = "stream.completed"
	EventStreamError         EventType = "stream.error"
	EventWarning             EventType = "warning"
	EventFunctionCalled      EventType = "function.called"
	EventMemorySaved         EventType = "memory.saved"
	EventVoiceFilesPruned    EventType = "voicefiles.pruned"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// WarningPayload is the payload of EventWarning.
type WarningPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SentencePayload is the payload of EventSentenceQueued.
type SentencePayload struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Narration bool   `json:"narration"`
	VoiceFile string `json:"voice_file,omitempty"`
}

// FunctionCalledPayload is the payload of EventFunctionCalled.
type FunctionCalledPayload struct {
	Function string        `json:"function"`
	Action   ActionPayload `json:"action"`
}

// VoiceFilesPrunedPayload is the payload of EventVoiceFilesPruned.
type VoiceFilesPrunedPayload struct {
	Dir     string `json:"dir"`
	Removed int    `json:"removed"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// PublishEvent marshals payload and publishes it on bus when bus is set.
func PublishEvent(ctx context.Context, bus EventBus, eventType EventType, conversationID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, Event{
		Type:           eventType,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
		Payload:        raw,
	})
}
