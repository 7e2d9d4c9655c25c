// Package gateway is the HTTP/JSON endpoint the game talks to.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/tracer"
	"npc-voice/internal/usecase/conversation"
)

// maxRequestBytes bounds a request body.
const maxRequestBytes = 1 << 20

// Conversations is the turn API the handler drives.
type Conversations interface {
	Open(ctx context.Context, req conversation.StartRequest) (string, conversation.Reply, error)
	Continue(ctx context.Context, id string, req conversation.ContinueRequest) (conversation.Reply, error)
	PlayerInput(ctx context.Context, id string, in conversation.PlayerInput) (conversation.Reply, error)
	End(ctx context.Context, id string) (conversation.Reply, error)
	Len() int
}

// Handler serves the game endpoint.
type Handler struct {
	convs  Conversations
	game   domain.Game
	logger *slog.Logger
}

// NewHandler creates the game endpoint handler.
func NewHandler(convs Conversations, game domain.Game, logger *slog.Logger) *Handler {
	return &Handler{convs: convs, game: game, logger: logger.With("component", "gateway")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", domain.CodeInvalidInput, "method not allowed")
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", domain.CodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	ctx, span := tracer.StartSpan(r.Context(), "gateway.request",
		trace.WithAttributes(
			tracer.StringAttr("request.type", req.Type()),
			tracer.StringAttr("conversation.id", req.ConversationID),
		),
	)
	defer span.End()

	id := req.ConversationID
	var (
		reply conversation.Reply
		err   error
	)
	switch req.Type() {
	case RequestStart:
		id, reply, err = h.convs.Open(ctx, req.startRequest())
	case RequestContinue:
		reply, err = h.convs.Continue(ctx, id, req.continueRequest())
	case RequestPlayer:
		reply, err = h.convs.PlayerInput(ctx, id, req.playerInput())
	case RequestEnd:
		reply, err = h.convs.End(ctx, id)
	default:
		writeError(w, http.StatusBadRequest, id, domain.CodeInvalidInput, "unknown mantella_request_type "+req.RequestType)
		return
	}
	if err != nil {
		tracer.RecordError(span, err)
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("request failed", "type", req.Type(), "conversation_id", id, "error", err)
		} else {
			h.logger.Warn("request rejected", "type", req.Type(), "conversation_id", id, "error", err)
		}
		writeError(w, status, id, domain.ErrorCodeOf(err), err.Error())
		return
	}

	resp := h.response(id, reply)
	h.logger.Debug("reply", "type", req.Type(), "conversation_id", id, "reply", resp.ReplyType)
	tracer.SetOK(span)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) response(id string, reply conversation.Reply) Response {
	resp := Response{ConversationID: id}
	switch reply.Kind {
	case conversation.ReplyNPCTalk:
		s := reply.Sentence
		resp.ReplyType = ReplyNPCTalk
		resp.NPCTalk = &NPCTalk{
			Speaker:         s.Content.Speaker.Name,
			VoiceFilePath:   s.VoiceFile,
			LineToSpeak:     h.game.TruncateLine(s.Content.Text),
			DurationSeconds: s.Duration,
			IsNarration:     s.Content.Type == domain.SentenceNarration,
			TopicID:         reply.TopicID,
			Actions:         actionsOf(s.Payloads()),
		}
	case conversation.ReplyNPCAction:
		resp.ReplyType = ReplyNPCAction
		resp.NPCAction = &NPCAction{
			Speaker: reply.Sentence.Content.Speaker.Name,
			Actions: actionsOf(reply.Sentence.Payloads()),
		}
	case conversation.ReplyError:
		resp.ReplyType = ReplyError
		resp.Error = &ErrorBody{Message: reply.Message, Kind: string(reply.Code)}
	case conversation.ReplyEnd:
		resp.ReplyType = ReplyEnd
	default:
		resp.ReplyType = ReplyPlayerTalk
	}
	return resp
}

// statusOf maps a request failure to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConversationEnded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPromptOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RejectEnvelope renders middleware refusals as error envelopes.
func RejectEnvelope(w http.ResponseWriter, _ *http.Request, status int, code domain.ErrorCode, msg string) {
	writeError(w, status, "", code, msg)
}

func writeError(w http.ResponseWriter, status int, id string, code domain.ErrorCode, msg string) {
	writeJSON(w, status, Response{
		ReplyType:      ReplyError,
		ConversationID: id,
		Error:          &ErrorBody{Message: msg, Kind: string(code)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
