package eventbus

import (
	"context"
	"log/slog"

	"npc-voice/internal/domain"
)

// LogEvents writes every event to logger: warnings and stream errors at
// warn level, the rest at debug. Returns the unsubscribe function.
func LogEvents(bus domain.EventBus, logger *slog.Logger) func() {
	return bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		level := slog.LevelDebug
		switch e.Type {
		case domain.EventWarning, domain.EventStreamError:
			level = slog.LevelWarn
		case domain.EventConversationStarted, domain.EventConversationEnded, domain.EventConversationReload:
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "event",
			"type", string(e.Type),
			"conversation_id", e.ConversationID,
			"payload", string(e.Payload),
		)
	})
}
