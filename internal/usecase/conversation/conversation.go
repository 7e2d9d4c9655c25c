package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/config"
	"npc-voice/internal/infra/tracer"
	"npc-voice/internal/usecase/parser"
	"npc-voice/internal/usecase/queue"
)

const (
	reloadLine  = "I need to gather my thoughts for a moment"
	apologyLine = "I can't find the right words at the moment"

	// VetoAction cancels a pending function call when the NPC refuses.
	VetoAction = "mantella_veto"

	// placeholderSeconds is how long the game waits before polling again
	// when no sentence is ready yet.
	placeholderSeconds = 1.0
)

// staged is a context update received while a reply was streaming.
type staged struct {
	participants []domain.Character
	update       Update
}

// Conversation is the turn state machine of one conversation. Requests are
// serialized; one reply producer runs at a time.
type Conversation struct {
	id      string
	svc     *CoreServices
	cfg     *config.Config
	logger  *slog.Logger
	prompts *PromptBuilder
	queue   *queue.SentenceQueue

	turnMu sync.Mutex

	mu            sync.Mutex // guards the fields below against the producer
	state         State
	cc            *Context
	thread        *Thread
	cancel        context.CancelFunc
	done          chan struct{}
	gen           int
	reloadPending bool
	lastSpeaker   domain.Character
	topic         int
	radiantTurns  int
	pending       []staged
	warned        map[string]bool
}

func newConversation(id, world string, svc *CoreServices) *Conversation {
	cfg := svc.Config
	return &Conversation{
		id:      id,
		svc:     svc,
		cfg:     cfg,
		logger:  svc.Logger.With("conversation_id", id),
		prompts: NewPromptBuilder(cfg.Prompts, svc.LLM, cfg.LLM.TokenLimitPercent, svc.Memory, svc.Actions),
		queue:   queue.New(cfg.Conversation.QueueCapacity),
		cc:      NewContext(world, cfg.Game.Name, cfg.Conversation.Language, cfg.Conversation.HourlyTime, svc.Memory),
		thread:  NewThread(""),
		warned:  make(map[string]bool),
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// State returns the current turn state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the message thread.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thread.Messages()
}

// Start opens the conversation and, when configured, begins the greeting.
func (c *Conversation) Start(ctx context.Context, req StartRequest) (Reply, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "turn.start_conversation",
		trace.WithAttributes(tracer.StringAttr("conversation.id", c.id)))
	defer span.End()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return Reply{}, domain.NewDomainError("Conversation.Start", domain.ErrInvalidInput, "conversation already started")
	}
	c.warned = make(map[string]bool)
	c.applyLocked(req.Participants, req.Update)

	cs := c.cc.Characters()
	if len(cs.NPCs()) == 0 {
		c.mu.Unlock()
		return Reply{}, domain.NewDomainError("Conversation.Start", domain.ErrInvalidInput, "no NPC in the conversation")
	}
	c.lastSpeaker = cs.NPCs()[0]

	prompt, err := c.buildPromptLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		tracer.RecordError(span, err)
		return Reply{}, err
	}
	c.thread = NewThread(prompt)
	domain.PublishEvent(ctx, c.svc.Bus, domain.EventConversationStarted, c.id, map[string]any{
		"npcs":    cs.Names(),
		"radiant": cs.IsRadiant(),
	})
	c.logger.Info("conversation started", "npcs", cs.Names(), "radiant", cs.IsRadiant())

	switch {
	case cs.IsRadiant():
		c.thread.Append(domain.RoleUser, c.cfg.Prompts.RadiantStart)
		c.state = StateNPCResponding
		c.radiantTurns = 1
		c.startResponseLocked(ctx, false)
	case c.cfg.Conversation.AutomaticGreeting:
		greeting, err := domain.RenderTemplate(c.cfg.Prompts.Greeting, c.prompts.Values(c.cc))
		if err != nil {
			c.mu.Unlock()
			return Reply{}, err
		}
		c.thread.Append(domain.RoleUser, joinLines(c.cc.TakeEvents(), greeting))
		c.state = StateGreeting
		c.startResponseLocked(ctx, false)
	default:
		c.state = StateAwaitingPlayer
		c.mu.Unlock()
		tracer.SetOK(span)
		return Reply{Kind: ReplyPlayerTalk}, nil
	}
	c.mu.Unlock()

	reply, ok := c.next(ctx)
	if !ok {
		c.mu.Lock()
		c.state = StateAwaitingPlayer
		c.mu.Unlock()
		reply = Reply{Kind: ReplyPlayerTalk}
	}
	tracer.SetOK(span)
	return reply, nil
}

// Continue returns the next sentence of the current reply. With the reply
// exhausted it hands the turn to the player, drives the next radiant turn
// or performs a pending reload.
func (c *Conversation) Continue(ctx context.Context, req ContinueRequest) (Reply, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "turn.continue_conversation",
		trace.WithAttributes(tracer.StringAttr("conversation.id", c.id)))
	defer span.End()

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return Reply{}, domain.NewDomainError("Conversation.Continue", domain.ErrConversationEnded, c.id)
	}
	c.stageLocked(req.Participants, req.Update)
	c.mu.Unlock()

	if reply, ok := c.next(ctx); ok {
		tracer.SetOK(span)
		return reply, nil
	}

	c.mu.Lock()
	c.applyPendingLocked()
	c.warned = make(map[string]bool)

	switch {
	case c.reloadPending:
		c.reloadLocked(ctx)
	case c.cc.Characters().IsRadiant():
		if c.radiantTurns >= c.cfg.Conversation.RadiantMaxTurns {
			c.mu.Unlock()
			tracer.SetOK(span)
			return c.end(ctx)
		}
		c.radiantTurns++
		c.thread.Append(domain.RoleUser, joinLines(c.cc.TakeEvents(), c.cfg.Prompts.RadiantContinue))
		c.state = StateNPCResponding
		c.startResponseLocked(ctx, true)
	default:
		c.state = StateAwaitingPlayer
		c.mu.Unlock()
		tracer.SetOK(span)
		return Reply{Kind: ReplyPlayerTalk}, nil
	}
	c.mu.Unlock()

	reply, ok := c.next(ctx)
	if !ok {
		c.mu.Lock()
		c.state = StateAwaitingPlayer
		c.mu.Unlock()
		reply = Reply{Kind: ReplyPlayerTalk}
	}
	tracer.SetOK(span)
	return reply, nil
}

// PlayerInput appends what the player said and starts the NPC reply. A
// reply still streaming is cancelled first.
func (c *Conversation) PlayerInput(ctx context.Context, in PlayerInput) (Reply, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	ctx, span := tracer.StartSpan(ctx, "turn.player_input",
		trace.WithAttributes(tracer.StringAttr("conversation.id", c.id)))
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Commands) == 0 {
		return Reply{}, domain.NewDomainError("Conversation.PlayerInput", domain.ErrInvalidInput, "empty player input")
	}

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return Reply{}, domain.NewDomainError("Conversation.PlayerInput", domain.ErrConversationEnded, c.id)
	}
	if c.done != nil {
		c.stopProducerLocked()
	} else {
		c.queue.Clear()
	}
	c.applyPendingLocked()
	c.applyLocked(in.Participants, in.Update)
	c.warned = make(map[string]bool)
	c.reloadPending = false

	c.cc.AddEvents(in.Commands...)
	c.thread.Append(domain.RoleUser, joinLines(c.cc.TakeEvents(), text))
	c.state = StateNPCResponding
	c.startResponseLocked(ctx, true)
	c.mu.Unlock()

	reply, ok := c.next(ctx)
	if !ok {
		c.mu.Lock()
		c.state = StateAwaitingPlayer
		c.mu.Unlock()
		reply = Reply{Kind: ReplyPlayerTalk}
	}
	tracer.SetOK(span)
	return reply, nil
}

// End stops any reply, saves every NPC's memory and closes the
// conversation. Ending twice is a no-op.
func (c *Conversation) End(ctx context.Context) (Reply, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.end(ctx)
}

func (c *Conversation) end(ctx context.Context) (Reply, error) {
	ctx, span := tracer.StartSpan(ctx, "turn.end_conversation",
		trace.WithAttributes(tracer.StringAttr("conversation.id", c.id)))
	defer span.End()

	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return Reply{Kind: ReplyEnd}, nil
	}
	if c.done != nil {
		c.stopProducerLocked()
	}
	started := c.state != StateIdle
	c.state = StateEnded
	npcs := c.cc.Characters().NPCs()
	transcript := c.thread.Transcript()
	world := c.cc.World()
	c.mu.Unlock()

	c.queue.Clear()

	if started && len(transcript) > 0 {
		if err := c.svc.Memory.Save(ctx, world, npcs, transcript); err != nil {
			c.report(ctx, domain.NewTurnError(domain.TurnErrSummarization, err))
			tracer.RecordError(span, err)
		} else {
			domain.PublishEvent(ctx, c.svc.Bus, domain.EventMemorySaved, c.id, map[string]any{"npcs": len(npcs)})
		}
	}

	domain.PublishEvent(ctx, c.svc.Bus, domain.EventConversationEnded, c.id, nil)
	c.logger.Info("conversation ended", "messages", len(transcript))
	tracer.SetOK(span)
	return Reply{Kind: ReplyEnd}, nil
}

// next waits up to the continue timeout for a sentence. ok is false when
// the reply is over and the queue is drained.
func (c *Conversation) next(ctx context.Context) (Reply, bool) {
	timeout := c.cfg.Conversation.ContinueTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, ok, err := c.queue.Get(waitCtx)
	if err != nil {
		return c.placeholder(), true
	}
	if !ok {
		return Reply{}, false
	}
	return c.deliver(s), true
}

// placeholder keeps the game's animation loop alive while the reply is
// still being prepared.
func (c *Conversation) placeholder() Reply {
	c.mu.Lock()
	speaker := c.lastSpeaker
	c.mu.Unlock()
	content := domain.SentenceContent{Speaker: speaker, Type: domain.SentenceSpeech, IsSystemGenerated: true}
	return Reply{Kind: ReplyNPCTalk, Sentence: domain.NewSentence(content, "", placeholderSeconds)}
}

func (c *Conversation) deliver(s domain.Sentence) Reply {
	switch {
	case s.Failed():
		return Reply{Kind: ReplyError, Sentence: s, Message: s.Error, Code: s.ErrorCode}
	case strings.TrimSpace(s.Content.Text) == "":
		return Reply{Kind: ReplyNPCAction, Sentence: s}
	}
	c.mu.Lock()
	if c.topic == 1 {
		c.topic = 2
	} else {
		c.topic = 1
	}
	topic := c.topic
	if !s.Content.Speaker.IsPlayer && s.Content.Speaker.Name != "" {
		c.lastSpeaker = s.Content.Speaker
	}
	c.mu.Unlock()
	return Reply{Kind: ReplyNPCTalk, Sentence: s, TopicID: topic}
}

// stageLocked applies an update now, or buffers it while a reply streams.
func (c *Conversation) stageLocked(participants []domain.Character, u Update) {
	if c.queue.MoreToCome() {
		c.pending = append(c.pending, staged{participants: participants, update: u})
		return
	}
	c.applyLocked(participants, u)
}

func (c *Conversation) applyPendingLocked() {
	for _, p := range c.pending {
		c.applyLocked(p.participants, p.update)
	}
	c.pending = nil
}

func (c *Conversation) applyLocked(participants []domain.Character, u Update) {
	if len(participants) > 0 {
		resolved := make([]domain.Character, len(participants))
		for i, p := range participants {
			resolved[i] = c.svc.resolve(p)
		}
		c.cc.AddOrUpdateCharacters(resolved)
	}
	c.cc.Apply(u)
}

// buildPromptLocked renders the system prompt and reports every dropped
// category once per turn.
func (c *Conversation) buildPromptLocked(ctx context.Context) (string, error) {
	res, err := c.prompts.Build(c.cc)
	if err != nil {
		return "", domain.WrapOp("Conversation.buildPrompt", err)
	}
	c.cc.ClearActorsChanged()

	var dropped []string
	for _, d := range res.Dropped() {
		if !c.warned[d] {
			c.warned[d] = true
			dropped = append(dropped, d)
		}
	}
	if len(dropped) > 0 {
		c.warn(ctx, domain.CodePromptOverflow,
			fmt.Sprintf("NPC %s dropped from the prompt to fit the token budget", strings.Join(dropped, " and ")))
	}
	if res.Overflow && !c.warned["overflow"] {
		c.warned["overflow"] = true
		c.logger.Warn("prompt exceeds the token budget after degradation", "error", domain.ErrPromptOverflow)
	}
	return res.Text, nil
}

func (c *Conversation) warn(ctx context.Context, code domain.ErrorCode, msg string) {
	c.logger.Warn(msg, "kind", code)
	domain.PublishEvent(ctx, c.svc.Bus, domain.EventWarning, c.id, domain.WarningPayload{Kind: string(code), Message: msg})
}

// startResponseLocked refreshes the system prompt and launches the reply
// producer. With checkBudget set an over-budget thread triggers a reload
// instead.
func (c *Conversation) startResponseLocked(ctx context.Context, checkBudget bool) {
	prompt, err := c.buildPromptLocked(ctx)
	if err != nil {
		c.logger.Error("rendering system prompt failed", "error", err)
	} else {
		c.thread.SetSystem(prompt)
	}

	if checkBudget && c.svc.LLM.IsTooLong(c.thread.Messages(), c.cfg.LLM.TokenLimitPercent) {
		c.beginReloadLocked(ctx)
		return
	}

	cs := cloneCharacters(c.cc.Characters())
	job := responseJob{
		messages:   c.thread.Messages(),
		characters: cs,
		speaker:    c.initialSpeakerLocked(),
		parser:     parserConfig(c.cfg.Conversation, cs),
		actions:    OfferedActions(c.svc.Actions, cs),
		multiNPC:   cs.IsMultiNPC(),
	}
	if c.svc.Functions != nil {
		job.function = &domain.FunctionRequest{
			ConversationID: c.id,
			Game:           c.cc.Game(),
			Participants:   cs.All(),
			Nearby:         cs.Nearby(),
			Messages:       job.messages,
			Flags:          contextFlags(c.cc),
			CustomValues:   c.cc.CustomValues(),
		}
	}

	c.gen++
	job.gen = c.gen
	job.done = make(chan struct{})
	prodCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = job.done
	c.queue.SetMoreToCome(true)

	domain.PublishEvent(ctx, c.svc.Bus, domain.EventTurnStarted, c.id, map[string]any{"messages": len(job.messages)})
	go c.produce(prodCtx, job)
}

// stopProducerLocked cancels the running reply and waits for it. The lock
// is released while waiting so the producer can finish.
func (c *Conversation) stopProducerLocked() {
	cancel, done := c.cancel, c.done
	c.gen++
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	cancel()
	<-done
	c.queue.Clear()
	c.mu.Lock()
}

// beginReloadLocked queues the reload placeholder; the thread is rebuilt
// on the next continue.
func (c *Conversation) beginReloadLocked(ctx context.Context) {
	c.reloadPending = true
	c.report(ctx, domain.NewTurnError(domain.TurnErrReload, domain.ErrReloadBudgetExceeded))

	content := domain.SentenceContent{
		Speaker:           c.lastSpeaker,
		Text:              reloadLine,
		Type:              domain.SentenceSpeech,
		IsSystemGenerated: true,
	}
	s, te := c.synthesize(ctx, content, true)
	if te != nil && ctx.Err() == nil {
		c.report(ctx, te)
	}
	if err := c.queue.Put(ctx, s); err != nil {
		c.logger.Warn("queueing reload line failed", "error", err)
	}
}

// reloadLocked saves what was said so far, then truncates the thread to a
// fresh system prompt and the last player line.
func (c *Conversation) reloadLocked(ctx context.Context) {
	c.reloadPending = false
	transcript := c.thread.Transcript()
	if err := c.svc.Memory.Save(ctx, c.cc.World(), c.cc.Characters().NPCs(), transcript); err != nil {
		c.report(ctx, domain.NewTurnError(domain.TurnErrSummarization, err))
	}

	greeting := c.thread.LastUserMessage()
	prompt, err := c.buildPromptLocked(ctx)
	if err != nil {
		c.logger.Error("rendering system prompt failed", "error", err)
		prompt = c.thread.System()
	}
	c.thread.Reset(prompt, greeting)
	c.state = StateNPCResponding
	c.startResponseLocked(ctx, false)
}

func (c *Conversation) initialSpeakerLocked() domain.Character {
	cs := c.cc.Characters()
	if c.lastSpeaker.Name != "" {
		if ch, ok := cs.Get(c.lastSpeaker.Name); ok {
			return ch
		}
	}
	if npcs := cs.NPCs(); len(npcs) > 0 {
		return npcs[0]
	}
	return c.lastSpeaker
}

// finishResponse records the assistant message unless the reply was
// superseded.
func (c *Conversation) finishResponse(job responseJob, text string, speaker domain.Character) {
	c.mu.Lock()
	if job.gen != c.gen {
		c.mu.Unlock()
		return
	}
	if text != "" {
		c.thread.Append(domain.RoleAssistant, text)
	}
	if speaker.Name != "" {
		c.lastSpeaker = speaker
	}
	cancel := c.cancel
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	c.queue.SetMoreToCome(false)
	if cancel != nil {
		cancel()
	}
}

func cloneCharacters(cs *domain.Characters) *domain.Characters {
	out := domain.NewCharacters()
	for _, ch := range cs.All() {
		out.AddOrUpdate(ch)
	}
	out.SetNearby(cs.Nearby())
	return out
}

func parserConfig(cc config.ConversationConfig, cs *domain.Characters) parser.Config {
	return parser.Config{
		Terminators:        cc.Terminators,
		MinWords:           cc.MinWords,
		MaxCharacters:      cc.MaxCharacters,
		MinWordsTTS:        cc.MinWordsTTS,
		MaxSentencesSingle: cc.MaxSentencesSingle,
		MaxSentencesMulti:  cc.MaxSentencesMulti,
		NarrationStart:     cc.NarrationStart,
		NarrationEnd:       cc.NarrationEnd,
		SpeechStart:        cc.SpeechStart,
		SpeechEnd:          cc.SpeechEnd,
		NarrationHandling:  cc.NarrationHandling,
		Radiant:            cs.IsRadiant(),
		MultiNPC:           cs.IsMultiNPC(),
	}
}

// contextFlags are the named flags function conditions are evaluated on.
func contextFlags(cc *Context) map[string]bool {
	cs := cc.Characters()
	flags := map[string]bool{
		"is_radiant":      cs.IsRadiant(),
		"is_multi_npc":    cs.IsMultiNPC(),
		"is_one_on_one":   !cs.IsRadiant() && !cs.IsMultiNPC(),
		"is_fallout":      cc.Game().IsFallout(),
		"has_nearby_npcs": len(cs.Nearby()) > 0,
	}
	for _, npc := range cs.NPCs() {
		if npc.InCombat {
			flags["npc_in_combat"] = true
		}
		if npc.IsEnemy {
			flags["npc_is_enemy"] = true
		}
		if npc.RelationshipRank > 0 {
			flags["npc_is_friend"] = true
		}
	}
	return flags
}

func joinLines(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// isCancelled reports a reply stopped by the conversation rather than a
// failure.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
