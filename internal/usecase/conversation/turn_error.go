package conversation

import (
	"context"
	"errors"
	"fmt"

	"npc-voice/internal/domain"
)

const functionTimeoutMessage = "function inference timed out, reply proceeds without an action"

// streamError tags a stream that failed after its retries.
func streamError(err error) *domain.TurnError {
	if errors.Is(err, domain.ErrContextOverflow) || errors.Is(err, domain.ErrPromptOverflow) {
		return domain.NewTurnError(domain.TurnErrPromptOverflow, err)
	}
	return domain.NewTurnError(domain.TurnErrTransport, err)
}

// synthesisError tags a line that could not be voiced.
func synthesisError(speaker string, err error) *domain.TurnError {
	return domain.NewTurnError(domain.TurnErrSynthesis, fmt.Errorf("could not voice line of %s: %w", speaker, err))
}

// report logs a turn-local failure and publishes it on the bus. The turn
// always carries on; the caller picks the fallback line.
func (c *Conversation) report(ctx context.Context, te *domain.TurnError) {
	code := domain.ErrorCodeOf(te)
	switch te.Kind {
	case domain.TurnErrTransport, domain.TurnErrPromptOverflow:
		c.logger.Warn("llm reply failed", "kind", te.Kind, "error", te.Err)
		domain.PublishEvent(ctx, c.svc.Bus, domain.EventStreamError, c.id,
			domain.WarningPayload{Kind: string(code), Message: te.Err.Error()})
	case domain.TurnErrSynthesis:
		c.warn(ctx, code, te.Err.Error())
	case domain.TurnErrFunctionTimeout:
		c.warn(ctx, domain.CodeFunctionTimeout, functionTimeoutMessage)
	case domain.TurnErrSummarization:
		c.logger.Warn("saving conversation memory failed", "kind", te.Kind, "error", te.Err)
	case domain.TurnErrReload:
		c.logger.Info("conversation exceeds the token budget, reloading", "messages", c.thread.Len())
		domain.PublishEvent(ctx, c.svc.Bus, domain.EventConversationReload, c.id, nil)
	default:
		c.logger.Warn("turn failed", "error", te)
	}
}
