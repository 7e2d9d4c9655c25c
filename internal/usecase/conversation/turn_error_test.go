package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"npc-voice/internal/domain"
)

func (b *recordingBus) streamErrors() []domain.WarningPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.WarningPayload
	for _, e := range b.events {
		var w domain.WarningPayload
		if e.Type == domain.EventStreamError && json.Unmarshal(e.Payload, &w) == nil {
			out = append(out, w)
		}
	}
	return out
}

func TestStreamErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.TurnErrorKind
	}{
		{"transport", fmt.Errorf("%w: connection reset", domain.ErrTransport), domain.TurnErrTransport},
		{"auth", fmt.Errorf("%w: bad key", domain.ErrAuthInvalid), domain.TurnErrTransport},
		{"context length", fmt.Errorf("%w: API error 400", domain.ErrContextOverflow), domain.TurnErrPromptOverflow},
		{"prompt overflow", domain.ErrPromptOverflow, domain.TurnErrPromptOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := streamError(tt.err)
			assert.Equal(t, tt.want, te.Kind)
			assert.True(t, errors.Is(te, tt.err))
		})
	}
}

func TestSynthesisErrorKeepsCause(t *testing.T) {
	te := synthesisError("Lydia", domain.ErrVoiceModelNotFound)
	assert.Equal(t, domain.TurnErrSynthesis, te.Kind)
	assert.Equal(t, domain.CodeVoiceModelNotFound, domain.ErrorCodeOf(te))
	assert.Contains(t, te.Error(), "could not voice line of Lydia")
}

func TestConversation_ContextOverflowIsReportedAsStreamError(t *testing.T) {
	env := newTestEnv(t, []string{"never"})
	env.llm.errs = []error{fmt.Errorf("%w: API error 400: maximum context length", domain.ErrContextOverflow)}

	conv, first := startOneOnOne(t, env)
	replies := drain(t, conv, first)

	assert.Equal(t, 1, env.llm.callCount(), "an overflowing prompt is not retried")
	assert.Equal(t, []string{apologyLine}, spoken(replies))
	reported := env.bus.streamErrors()
	require.Len(t, reported, 1)
	assert.Equal(t, string(domain.CodeContextOverflow), reported[0].Kind)
}

func TestConversation_TransportFailureIsReportedWithItsCode(t *testing.T) {
	env := newTestEnv(t, []string{"never"})
	env.llm.errs = []error{fmt.Errorf("%w: API error 401: bad key", domain.ErrAuthInvalid)}

	conv, first := startOneOnOne(t, env)
	drain(t, conv, first)

	reported := env.bus.streamErrors()
	require.Len(t, reported, 1)
	assert.Equal(t, string(domain.CodeAuthInvalid), reported[0].Kind)
	assert.Contains(t, reported[0].Message, "bad key")
}
