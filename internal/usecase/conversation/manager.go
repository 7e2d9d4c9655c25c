package conversation

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"npc-voice/internal/domain"
)

// Manager tracks live conversations. The game addresses the current one
// implicitly, so requests without an id go to the most recently started.
type Manager struct {
	svc *CoreServices

	mu      sync.Mutex
	convs   map[string]*Conversation
	current string
}

// NewManager validates svc and creates a manager.
func NewManager(svc *CoreServices) (*Manager, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return &Manager{svc: svc, convs: make(map[string]*Conversation)}, nil
}

// Start ends the current conversation, if any, and opens a new one.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Conversation, Reply, error) {
	m.mu.Lock()
	prev := m.convs[m.current]
	m.mu.Unlock()
	if prev != nil {
		m.svc.Logger.Info("starting a new conversation ends the current one", "conversation_id", prev.ID())
		if _, err := m.End(ctx, prev.ID()); err != nil {
			m.svc.Logger.Warn("ending previous conversation failed", "error", err)
		}
	}

	conv := newConversation(ulid.Make().String(), req.World, m.svc)
	m.mu.Lock()
	m.convs[conv.ID()] = conv
	m.current = conv.ID()
	m.mu.Unlock()

	reply, err := conv.Start(ctx, req)
	if err != nil {
		m.remove(conv.ID())
		return nil, Reply{}, err
	}
	return conv, reply, nil
}

// Open is Start for callers that address conversations by id.
func (m *Manager) Open(ctx context.Context, req StartRequest) (string, Reply, error) {
	conv, reply, err := m.Start(ctx, req)
	if err != nil {
		return "", Reply{}, err
	}
	return conv.ID(), reply, nil
}

// Continue polls the conversation with id, or the current one. A
// conversation that ends on its own, such as a finished radiant one, is
// forgotten.
func (m *Manager) Continue(ctx context.Context, id string, req ContinueRequest) (Reply, error) {
	conv, err := m.Get(id)
	if err != nil {
		return Reply{}, err
	}
	reply, err := conv.Continue(ctx, req)
	if err == nil && reply.Kind == ReplyEnd {
		m.remove(conv.ID())
	}
	return reply, err
}

// PlayerInput delivers player input to the conversation with id, or the
// current one.
func (m *Manager) PlayerInput(ctx context.Context, id string, in PlayerInput) (Reply, error) {
	conv, err := m.Get(id)
	if err != nil {
		return Reply{}, err
	}
	return conv.PlayerInput(ctx, in)
}

// Get returns the conversation with id, or the current one for "".
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = m.current
	}
	conv, ok := m.convs[id]
	if !ok {
		return nil, domain.NewDomainError("Manager.Get", domain.ErrConversationNotFound, id)
	}
	return conv, nil
}

// End closes and forgets the conversation with id, or the current one.
func (m *Manager) End(ctx context.Context, id string) (Reply, error) {
	conv, err := m.Get(id)
	if err != nil {
		return Reply{}, err
	}
	reply, err := conv.End(ctx)
	m.remove(conv.ID())
	return reply, err
}

// Shutdown ends every conversation so their memories are saved.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.End(ctx, id); err != nil {
			m.svc.Logger.Warn("ending conversation on shutdown failed", "conversation_id", id, "error", err)
		}
	}
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	if m.current == id {
		m.current = ""
	}
}
