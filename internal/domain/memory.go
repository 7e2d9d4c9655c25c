package domain

import "context"

// MemoryStore is the per-character conversation memory. Every NPC has a
// history of past conversations and a chain of summary files of which the
// latest is active.
type MemoryStore interface {
	// Summaries returns the paragraphs of npc's active summary file in the
	// order they were written.
	Summaries(world string, npc Character) string
	// ConversationCount returns how many conversations with npc are logged.
	ConversationCount(world string, npc Character) int
	// Save appends the conversation to each NPC's history and summarizes
	// it. thread excludes the system prompt.
	Save(ctx context.Context, world string, npcs []Character, thread []Message) error
}
