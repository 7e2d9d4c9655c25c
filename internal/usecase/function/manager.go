package function

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/tracer"
)

// historyWindow is how many recent messages the function LLM sees.
const historyWindow = 6

// Manager implements domain.FunctionDispatcher.
type Manager struct {
	registry *Registry
	llm      domain.FunctionLLM
	prompt   string
	logger   *slog.Logger
}

// NewManager creates a dispatcher over registry.
func NewManager(registry *Registry, llm domain.FunctionLLM, prompt string, logger *slog.Logger) *Manager {
	return &Manager{
		registry: registry,
		llm:      llm,
		prompt:   prompt,
		logger:   logger.With("component", "function"),
	}
}

// Infer asks the function LLM to choose among the functions available in
// the current context. Arguments are validated against the function's
// schema, character references resolved to ids and modes checked against
// the offered mode tables; a call naming an unknown character or mode is
// rejected.
func (m *Manager) Infer(ctx context.Context, req domain.FunctionRequest) (*domain.FunctionCall, error) {
	defs := m.registry.Available(req.Game, req.Flags)
	if len(defs) == 0 {
		return nil, nil
	}

	ctx, span := tracer.StartSpan(ctx, "function.infer",
		trace.WithAttributes(
			tracer.StringAttr("conversation.id", req.ConversationID),
			tracer.IntAttr("function.offered", len(defs)),
		),
	)
	defer span.End()

	tools := make([]domain.ToolSchema, len(defs))
	for i, d := range defs {
		tools[i] = d.toolSchema()
	}

	resp, err := m.llm.ChooseFunction(ctx, m.messages(defs, req), tools)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if resp == nil || len(resp.Message.ToolCalls) == 0 {
		tracer.SetOK(span)
		return nil, nil
	}

	tc := resp.Message.ToolCalls[0]
	call, err := m.resolveCall(defs, tc, req)
	if err != nil {
		m.logger.Warn("function call dropped", "function", tc.Name, "error", err)
		tracer.RecordError(span, err)
		return nil, err
	}
	m.logger.Info("function chosen", "function", call.Function, "action", call.Payload.Identifier)
	tracer.SetOK(span)
	return call, nil
}

// messages builds the function prompt with hints and tooltips, followed
// by the tail of the conversation.
func (m *Manager) messages(defs []*Definition, req domain.FunctionRequest) []domain.Message {
	parts := []string{strings.TrimSpace(m.prompt)}
	seen := make(map[string]bool)
	for _, d := range defs {
		if d.PromptHint != "" {
			parts = append(parts, d.PromptHint)
		}
		for _, name := range d.Tooltips {
			if seen[name] {
				continue
			}
			seen[name] = true
			if text := m.registry.tooltipText(name, req); text != "" {
				parts = append(parts, text)
			}
		}
	}

	msgs := []domain.Message{{Role: domain.RoleSystem, Content: strings.Join(parts, "\n\n")}}
	var history []domain.Message
	for _, msg := range req.Messages {
		if msg.Role != domain.RoleSystem {
			history = append(history, domain.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return append(msgs, history...)
}

func (m *Manager) resolveCall(offered []*Definition, tc domain.ToolCall, req domain.FunctionRequest) (*domain.FunctionCall, error) {
	var def *Definition
	for _, d := range offered {
		if d.Name == tc.Name {
			def = d
			break
		}
	}
	if def == nil {
		return nil, domain.NewDomainError("function.Infer", domain.ErrFunctionRejected, fmt.Sprintf("function %q was not offered", tc.Name))
	}

	args, err := def.ValidateArguments(tc.Arguments)
	if err != nil {
		return nil, domain.NewDomainError("function.Infer", domain.ErrFunctionRejected, err.Error())
	}

	table := newTargetTable(req)
	var resolved domain.ActionArguments
	if refs := stringList(args["source"]); len(refs) > 0 {
		ids, ok := resolve(table.sources, refs)
		if !ok {
			return nil, domain.NewDomainError("function.Infer", domain.ErrFunctionRejected, fmt.Sprintf("unknown source in %v", refs))
		}
		resolved.Source = ids
	}
	if refs := stringList(args["target"]); len(refs) > 0 {
		ids, ok := resolve(table.targets, refs)
		if !ok {
			return nil, domain.NewDomainError("function.Infer", domain.ErrFunctionRejected, fmt.Sprintf("unknown target in %v", refs))
		}
		resolved.Target = ids
	}
	if modes := stringList(args["mode"]); len(modes) > 0 {
		// Without a mode table the parameter schema is the only gate.
		if table := m.registry.modeTable(def); table != nil {
			canonical, ok := resolve(table, modes)
			if !ok {
				return nil, domain.NewDomainError("function.Infer", domain.ErrFunctionRejected, fmt.Sprintf("unknown mode in %v", modes))
			}
			modes = canonical
		}
		resolved.Mode = modes
	}

	payload := domain.ActionPayload{Identifier: def.Identifier}
	if len(resolved.Source)+len(resolved.Target)+len(resolved.Mode) > 0 {
		payload.Arguments = &resolved
	}
	return &domain.FunctionCall{Function: def.Name, Payload: payload}, nil
}

// stringList accepts a string or a list of strings.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
