package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"npc-voice/internal/domain"
	"npc-voice/internal/infra/tracer"
	"npc-voice/internal/usecase/parser"
)

// responseJob is a snapshot of everything one reply producer needs.
type responseJob struct {
	gen        int
	done       chan struct{}
	messages   []domain.Message
	characters *domain.Characters
	speaker    domain.Character
	parser     parser.Config
	actions    []domain.Action
	multiNPC   bool
	function   *domain.FunctionRequest
}

// produce streams one reply through the parser chain and TTS into the
// sentence queue.
func (c *Conversation) produce(ctx context.Context, job responseJob) {
	defer close(job.done)

	ctx, span := tracer.StartSpan(ctx, "conversation.respond",
		trace.WithAttributes(
			tracer.StringAttr("conversation.id", c.id),
			tracer.IntAttr("conversation.messages", len(job.messages)),
			tracer.BoolAttr("conversation.multi_npc", job.multiNPC),
		),
	)
	defer span.End()

	w := &replyWriter{c: c, job: job, first: true}
	if job.function != nil {
		w.fnCh = c.inferFunction(ctx, *job.function)
	}

	pipe := parser.NewPipeline(job.parser, job.characters, job.actions, job.speaker)
	received, err := c.streamWithRetry(ctx, job, pipe, w.emit)

	var te *domain.TurnError
	switch {
	case isCancelled(ctx, err):
		c.logger.Debug("reply cancelled")
		return
	case errors.As(err, &te) && !received:
		c.report(ctx, te)
		tracer.RecordError(span, err)
		w.emit(ctx, domain.SentenceContent{
			Speaker:           pipe.Speaker(),
			Text:              apologyLine,
			Type:              domain.SentenceSpeech,
			IsSystemGenerated: true,
		})
	default:
		if err != nil {
			c.logger.Warn("llm stream broke mid-reply", "error", err)
			tracer.RecordError(span, err)
		}
		for _, sc := range pipe.Finish() {
			w.emit(ctx, sc)
		}
		tracer.SetOK(span)
	}

	w.finishFunction(ctx)
	if ctx.Err() != nil {
		return
	}
	domain.PublishEvent(ctx, c.svc.Bus, domain.EventStreamCompleted, c.id, map[string]any{"sentences": w.count})
	c.finishResponse(job, w.transcript.String(), w.speaker)
}

// streamWithRetry runs the LLM stream, retrying retryable failures that
// happen before any text arrived. A partly delivered reply is never
// replayed. A failure other than cancellation is a *domain.TurnError.
func (c *Conversation) streamWithRetry(ctx context.Context, job responseJob, pipe *parser.Pipeline, emit func(context.Context, domain.SentenceContent)) (bool, error) {
	maxRetries := c.cfg.LLM.MaxRetries
	for attempt := 0; ; attempt++ {
		received, err := c.streamOnce(ctx, job, pipe, emit)
		if err == nil || isCancelled(ctx, err) {
			return received, err
		}
		if received {
			return true, streamError(err)
		}

		classified := c.svc.Classifier.Classify(err)
		if !classified.Retryable() || attempt >= maxRetries {
			return false, streamError(domain.WrapOp("Conversation.stream", err))
		}

		delay := c.svc.Backoff(attempt)
		c.logger.Info("retrying LLM stream after error",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (c *Conversation) streamOnce(ctx context.Context, job responseJob, pipe *parser.Pipeline, emit func(context.Context, domain.SentenceContent)) (bool, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := c.svc.LLM.StreamingCall(streamCtx, job.messages, job.multiNPC)
	if err != nil {
		return false, err
	}

	received := false
	for delta := range ch {
		if delta.Err != nil {
			return received, delta.Err
		}
		if delta.Content != "" {
			received = true
			for _, sc := range pipe.Feed(delta.Content) {
				emit(ctx, sc)
			}
			if pipe.Stopped() {
				// Interrupting action, sentence cap or the player speaking:
				// the deferred cancel closes the stream.
				return true, nil
			}
		}
		if delta.Done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return received, err
	}
	return received, nil
}

// inferFunction runs function inference alongside the main reply. The
// channel yields exactly one value, nil when no function applies.
func (c *Conversation) inferFunction(ctx context.Context, req domain.FunctionRequest) <-chan *domain.FunctionCall {
	ch := make(chan *domain.FunctionCall, 1)
	go func() {
		call, err := c.svc.Functions.Infer(ctx, req)
		switch {
		case errors.Is(err, domain.ErrFunctionInferenceTimeout):
			c.report(ctx, domain.NewTurnError(domain.TurnErrFunctionTimeout, err))
			call = nil
		case err != nil && ctx.Err() == nil:
			c.logger.Warn("function inference failed", "error", err)
			call = nil
		}
		ch <- call
	}()
	return ch
}

// synthesize voices content. A failure yields an error sentence, so the
// turn carries on, together with the tagged cause.
func (c *Conversation) synthesize(ctx context.Context, content domain.SentenceContent, first bool) (domain.Sentence, *domain.TurnError) {
	cfg := c.cfg.Conversation
	voice := content.Speaker.VoiceModel
	var variants []string
	if content.Type == domain.SentenceNarration && cfg.NarrationHandling == domain.UseNarrator {
		voice = cfg.NarratorVoice
	} else if g := content.Speaker.GameVoiceModel; g != "" && g != voice {
		variants = append(variants, g)
	}
	if voice == "" && len(variants) > 0 {
		voice, variants = variants[0], nil
	}

	resolved, err := c.svc.TTS.ChangeVoice(ctx, voice, variants...)
	if err == nil {
		var res domain.SynthesisResult
		res, err = c.svc.TTS.Synthesize(ctx, resolved, content.Text, domain.SynthesisOptions{
			Aggro:                 content.Speaker.InCombat,
			IsFirstLineOfResponse: first,
		})
		if err == nil {
			return domain.NewSentence(content, res.Path, res.Duration), nil
		}
	}
	return domain.NewErrorSentence(content, err), synthesisError(content.Speaker.Name, err)
}

// replyWriter turns parsed sentences into queued, voiced sentences and
// keeps the assistant transcript of the reply.
type replyWriter struct {
	c     *Conversation
	job   responseJob
	first bool
	count int

	fnCh     <-chan *domain.FunctionCall
	fnDone   bool
	attached bool
	vetoed   bool

	transcript  strings.Builder
	lastSpeaker string
	speaker     domain.Character
}

func (w *replyWriter) emit(ctx context.Context, sc domain.SentenceContent) {
	if strings.TrimSpace(sc.Text) == "" || ctx.Err() != nil {
		return
	}

	s, te := w.c.synthesize(ctx, sc, w.first)
	w.first = false
	if te != nil && ctx.Err() == nil {
		w.c.report(ctx, te)
	}

	if sc.HasAction(VetoAction) {
		w.vetoed = true
		s = s.WithoutAction(VetoAction)
	}
	if call := w.pollFunction(); call != nil {
		s = w.attach(ctx, s, call)
	}

	if !sc.IsSystemGenerated {
		w.record(sc)
	}
	if err := w.c.queue.Put(ctx, s); err != nil {
		return
	}
	w.count++
	domain.PublishEvent(ctx, w.c.svc.Bus, domain.EventSentenceQueued, w.c.id, domain.SentencePayload{
		Speaker:   sc.Speaker.Name,
		Text:      sc.Text,
		Narration: sc.Type == domain.SentenceNarration,
		VoiceFile: s.VoiceFile,
	})
}

// pollFunction returns a ready, unvetoed function call without waiting.
func (w *replyWriter) pollFunction() *domain.FunctionCall {
	if w.fnCh == nil || w.fnDone || w.attached {
		return nil
	}
	select {
	case call := <-w.fnCh:
		w.fnDone = true
		if w.vetoed {
			return nil
		}
		return call
	default:
		return nil
	}
}

func (w *replyWriter) attach(ctx context.Context, s domain.Sentence, call *domain.FunctionCall) domain.Sentence {
	w.attached = true
	domain.PublishEvent(ctx, w.c.svc.Bus, domain.EventFunctionCalled, w.c.id, domain.FunctionCalledPayload{
		Function: call.Function,
		Action:   call.Payload,
	})
	w.c.logger.Info("function call attached", "function", call.Function, "action", call.Payload.Identifier)
	return s.WithFunctionCalls(call.Payload)
}

// finishFunction waits for an inference still running when the reply
// ended and delivers its result as an action without speech.
func (w *replyWriter) finishFunction(ctx context.Context) {
	if w.fnCh == nil || w.fnDone || w.attached {
		return
	}
	var call *domain.FunctionCall
	select {
	case call = <-w.fnCh:
		w.fnDone = true
	case <-ctx.Done():
		return
	}
	if call == nil || w.vetoed {
		return
	}
	speaker := w.speaker
	if speaker.Name == "" {
		speaker = w.job.speaker
	}
	s := domain.NewSentence(domain.SentenceContent{Speaker: speaker, Type: domain.SentenceSpeech}, "", 0)
	s = w.attach(ctx, s, call)
	if err := w.c.queue.Put(ctx, s); err != nil {
		return
	}
	w.count++
}

// record appends sc to the assistant transcript. Multi-NPC replies keep
// the "Name:" prefixes the model is asked to produce.
func (w *replyWriter) record(sc domain.SentenceContent) {
	w.speaker = sc.Speaker
	if w.transcript.Len() > 0 {
		if w.job.multiNPC && sc.Speaker.Name != w.lastSpeaker {
			w.transcript.WriteString("\n")
		} else {
			w.transcript.WriteString(" ")
		}
	}
	if w.job.multiNPC && sc.Speaker.Name != w.lastSpeaker {
		w.transcript.WriteString(sc.Speaker.Name + ": ")
	}
	w.lastSpeaker = sc.Speaker.Name
	w.transcript.WriteString(strings.TrimSpace(sc.Text))
}
