package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
	"npc-voice/internal/usecase/conversation"
)

// --- test doubles ---

type stubConversations struct {
	mu       sync.Mutex
	reply    conversation.Reply
	err      error
	start    conversation.StartRequest
	cont     conversation.ContinueRequest
	input    conversation.PlayerInput
	lastID   string
	calls    []string
	liveConv int
}

func (s *stubConversations) record(call, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	s.lastID = id
}

func (s *stubConversations) Open(_ context.Context, req conversation.StartRequest) (string, conversation.Reply, error) {
	s.record("open", "")
	s.start = req
	if s.err != nil {
		return "", conversation.Reply{}, s.err
	}
	return "01HCONV", s.reply, nil
}

func (s *stubConversations) Continue(_ context.Context, id string, req conversation.ContinueRequest) (conversation.Reply, error) {
	s.record("continue", id)
	s.cont = req
	return s.reply, s.err
}

func (s *stubConversations) PlayerInput(_ context.Context, id string, in conversation.PlayerInput) (conversation.Reply, error) {
	s.record("player_input", id)
	s.input = in
	return s.reply, s.err
}

func (s *stubConversations) End(_ context.Context, id string) (conversation.Reply, error) {
	s.record("end", id)
	return conversation.Reply{Kind: conversation.ReplyEnd}, s.err
}

func (s *stubConversations) Len() int { return s.liveConv }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mantella", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var resp Response
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp), w.Body.String())
	return w, resp
}

func talkReply() conversation.Reply {
	speaker := domain.Character{Name: "Lydia", RefID: "200"}
	s := domain.NewSentence(domain.NewSentenceContent(speaker, "I am sworn to carry your burdens.", domain.SentenceSpeech, []string{"mantella_npc_follow"}), "/voicelines/1.wav", 2.5)
	s = s.WithFunctionCalls(domain.ActionPayload{
		Identifier: "mantella_npc_offended",
		Arguments:  &domain.ActionArguments{Source: []string{"200"}, Target: []string{"300"}},
	})
	return conversation.Reply{Kind: conversation.ReplyNPCTalk, Sentence: s, TopicID: 2}
}

const startBody = `{
  "mantella_request_type": "mantella_start_conversation",
  "mantella_world_id": "Dovahkiin1",
  "mantella_actors": [
    {"mantella_ref_id": 20, "mantella_base_id": 7, "mantella_name": "Dovahkiin", "mantella_is_player_character": true, "mantella_gender": 0},
    {"mantella_ref_id": 200, "mantella_base_id": "A2C94", "mantella_name": "Lydia", "mantella_race": "<NordRace>", "mantella_gender": 1,
     "mantella_voicetype": "FemaleEvenToned", "mantella_relationship_rank": 2, "mantella_is_in_combat": true,
     "mantella_actor_equipment": {"righthand": "Steel Sword", "body": "Steel Armor", "head": ""},
     "mantella_custom_values": {"pronouns": "she/her/her", "level": 12, "follower": true}},
    {"mantella_name": "  "}
  ],
  "mantella_context": {
    "mantella_location": "Dragonsreach",
    "mantella_time": 14,
    "mantella_weather": "Clear",
    "mantella_ingame_events": ["Dovahkiin picked up a sword", " "],
    "mantella_nearby_npcs": [{"name": "Irileth", "ref_id": 300, "distance": 512.5}],
    "mantella_actors_in_view": "[Lydia],[Irileth]",
    "mantella_actor_distances": "[120.5],[800]"
  }
}`

// --- tests ---

func TestHandler_StartConversation(t *testing.T) {
	convs := &stubConversations{reply: talkReply()}
	h := NewHandler(convs, domain.GameSkyrim, testLogger())

	w, resp := post(t, h, startBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	assert.Equal(t, ReplyNPCTalk, resp.ReplyType)
	assert.Equal(t, "01HCONV", resp.ConversationID)
	require.NotNil(t, resp.NPCTalk)
	assert.Equal(t, "Lydia", resp.NPCTalk.Speaker)
	assert.Equal(t, "/voicelines/1.wav", resp.NPCTalk.VoiceFilePath)
	assert.Equal(t, "I am sworn to carry your burdens.", resp.NPCTalk.LineToSpeak)
	assert.Equal(t, 2.5, resp.NPCTalk.DurationSeconds)
	assert.Equal(t, 2, resp.NPCTalk.TopicID)
	assert.False(t, resp.NPCTalk.IsNarration)
	require.Len(t, resp.NPCTalk.Actions, 2)
	assert.Equal(t, "mantella_npc_follow", resp.NPCTalk.Actions[0].Identifier)
	assert.Nil(t, resp.NPCTalk.Actions[0].Arguments)
	require.NotNil(t, resp.NPCTalk.Actions[1].Arguments)
	assert.Equal(t, []string{"300"}, resp.NPCTalk.Actions[1].Arguments.Target)

	req := convs.start
	assert.Equal(t, "Dovahkiin1", req.World)
	require.Len(t, req.Participants, 2)
	player, lydia := req.Participants[0], req.Participants[1]
	assert.True(t, player.IsPlayer)
	assert.Equal(t, "20", player.RefID)
	assert.Equal(t, "200", lydia.RefID)
	assert.Equal(t, "A2C94", lydia.BaseID)
	assert.Equal(t, "FemaleEvenToned", lydia.GameVoiceModel)
	assert.True(t, lydia.InCombat)
	assert.Equal(t, 2, lydia.RelationshipRank)
	assert.Equal(t, "body: Steel Armor, righthand: Steel Sword", lydia.Equipment)
	assert.Equal(t, map[string]string{"pronouns": "she/her/her", "level": "12", "follower": "true"}, lydia.CustomValues)

	u := req.Update
	assert.Equal(t, "Dragonsreach", u.Location)
	require.NotNil(t, u.Hour)
	assert.Equal(t, 14, *u.Hour)
	assert.Equal(t, "Clear", u.Weather)
	assert.Equal(t, []string{"Dovahkiin picked up a sword"}, u.Events)
	assert.Equal(t, []domain.NearbyCharacter{{Name: "Irileth", RefID: "300", Distance: 512.5}}, u.Nearby)
	assert.Equal(t, []domain.NearbyCharacter{{Name: "Lydia", Distance: 120.5}, {Name: "Irileth", Distance: 800}}, u.InView)
}

func TestHandler_ActionsWireShape(t *testing.T) {
	convs := &stubConversations{reply: talkReply()}
	h := NewHandler(convs, domain.GameSkyrim, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/mantella", strings.NewReader(`{"mantella_request_type": "continue_conversation"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var raw struct {
		NPCTalk struct {
			Actions []json.RawMessage `json:"actions"`
		} `json:"npc_talk"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.NPCTalk.Actions, 2)
	assert.JSONEq(t, `"mantella_npc_follow"`, string(raw.NPCTalk.Actions[0]))
	assert.JSONEq(t, `{"identifier": "mantella_npc_offended", "arguments": {"source": ["200"], "target": ["300"]}}`, string(raw.NPCTalk.Actions[1]))
}

func TestHandler_RequestTypes(t *testing.T) {
	tests := []struct {
		body      string
		wantCall  string
		wantReply string
	}{
		{`{"mantella_request_type": "continue_conversation", "mantella_conversation_id": "c1"}`, "continue", ReplyPlayerTalk},
		{`{"mantella_request_type": "mantella_continue_conversation"}`, "continue", ReplyPlayerTalk},
		{`{"mantella_request_type": "mantella_player_input", "mantella_conversation_id": "c1", "mantella_player_input": "Hi"}`, "player_input", ReplyPlayerTalk},
		{`{"mantella_request_type": "end_conversation", "mantella_conversation_id": "c1"}`, "end", ReplyEnd},
	}
	for _, tt := range tests {
		t.Run(tt.wantCall, func(t *testing.T) {
			convs := &stubConversations{reply: conversation.Reply{Kind: conversation.ReplyPlayerTalk}}
			h := NewHandler(convs, domain.GameSkyrim, testLogger())

			w, resp := post(t, h, tt.body)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantReply, resp.ReplyType)
			assert.Equal(t, []string{tt.wantCall}, convs.calls)
		})
	}
}

func TestHandler_PlayerInput(t *testing.T) {
	convs := &stubConversations{reply: conversation.Reply{Kind: conversation.ReplyPlayerTalk}}
	h := NewHandler(convs, domain.GameSkyrim, testLogger())

	post(t, h, `{"mantella_request_type": "player_input", "mantella_conversation_id": "c9",
	  "mantella_player_input": "Follow me.", "mantella_player_commands": ["*Dovahkiin drew a sword*"],
	  "mantella_context": {"mantella_location": "Whiterun"}}`)

	assert.Equal(t, "c9", convs.lastID)
	assert.Equal(t, "Follow me.", convs.input.Text)
	assert.Equal(t, []string{"*Dovahkiin drew a sword*"}, convs.input.Commands)
	assert.Equal(t, "Whiterun", convs.input.Update.Location)
}

func TestHandler_TruncatesLineForFallout(t *testing.T) {
	reply := talkReply()
	reply.Sentence.Content.Text = strings.Repeat("word ", 60)
	convs := &stubConversations{reply: reply}
	h := NewHandler(convs, domain.GameFallout4, testLogger())

	_, resp := post(t, h, `{"mantella_request_type": "continue_conversation"}`)
	require.NotNil(t, resp.NPCTalk)
	assert.LessOrEqual(t, len(resp.NPCTalk.LineToSpeak), 148)
}

func TestHandler_NarrationAndAction(t *testing.T) {
	narrator := domain.Character{Name: "Narrator"}
	convs := &stubConversations{reply: conversation.Reply{
		Kind:     conversation.ReplyNPCTalk,
		Sentence: domain.NewSentence(domain.NewSentenceContent(narrator, "Lydia nods.", domain.SentenceNarration, nil), "/v/2.wav", 1),
		TopicID:  1,
	}}
	h := NewHandler(convs, domain.GameSkyrim, testLogger())
	_, resp := post(t, h, `{"mantella_request_type": "continue_conversation"}`)
	require.NotNil(t, resp.NPCTalk)
	assert.True(t, resp.NPCTalk.IsNarration)
	assert.NotNil(t, resp.NPCTalk.Actions, "actions is always a list")

	lydia := domain.Character{Name: "Lydia"}
	convs.reply = conversation.Reply{
		Kind:     conversation.ReplyNPCAction,
		Sentence: domain.NewSentence(domain.NewSentenceContent(lydia, "", domain.SentenceSpeech, []string{"mantella_npc_inventory"}), "", 0),
	}
	_, resp = post(t, h, `{"mantella_request_type": "continue_conversation"}`)
	assert.Equal(t, ReplyNPCAction, resp.ReplyType)
	require.NotNil(t, resp.NPCAction)
	assert.Equal(t, "Lydia", resp.NPCAction.Speaker)
	require.Len(t, resp.NPCAction.Actions, 1)
	assert.Equal(t, "mantella_npc_inventory", resp.NPCAction.Actions[0].Identifier)
}

func TestHandler_TurnError(t *testing.T) {
	convs := &stubConversations{reply: conversation.Reply{
		Kind:    conversation.ReplyError,
		Message: "speech synthesis failed",
		Code:    domain.CodeSynthesisFailure,
	}}
	h := NewHandler(convs, domain.GameSkyrim, testLogger())

	w, resp := post(t, h, `{"mantella_request_type": "continue_conversation"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ReplyError, resp.ReplyType)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SYNTHESIS_FAILURE", resp.Error.Kind)
}

func TestHandler_RequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
		wantKind   domain.ErrorCode
	}{
		{"not found", domain.NewDomainError("Manager.Get", domain.ErrConversationNotFound, "c1"),
			`{"mantella_request_type": "continue_conversation", "mantella_conversation_id": "c1"}`, http.StatusNotFound, domain.CodeConversationNotFound},
		{"ended", domain.NewDomainError("Conversation.Continue", domain.ErrConversationEnded, "c1"),
			`{"mantella_request_type": "continue_conversation"}`, http.StatusConflict, domain.CodeConversationEnded},
		{"invalid", domain.NewDomainError("Conversation.Start", domain.ErrInvalidInput, "no NPC"),
			`{"mantella_request_type": "start_conversation"}`, http.StatusBadRequest, domain.CodeInvalidInput},
		{"internal", domain.ErrUnknownPlaceholder,
			`{"mantella_request_type": "start_conversation"}`, http.StatusInternalServerError, domain.CodeUnknownPlaceholder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			convs := &stubConversations{err: tt.err}
			h := NewHandler(convs, domain.GameSkyrim, testLogger())

			w, resp := post(t, h, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, ReplyError, resp.ReplyType)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantKind), resp.Error.Kind)
		})
	}
}

func TestHandler_BadRequests(t *testing.T) {
	h := NewHandler(&stubConversations{}, domain.GameSkyrim, testLogger())

	w, resp := post(t, h, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ReplyError, resp.ReplyType)

	w, resp = post(t, h, `{"mantella_request_type": "dance"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error.Message, "dance")

	req := httptest.NewRequest(http.MethodGet, "/mantella", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
