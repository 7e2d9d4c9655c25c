package parser

import "npc-voice/internal/domain"

// Pipeline feeds one streamed reply through an Accumulator and a Chain.
type Pipeline struct {
	acc   *Accumulator
	chain *Chain
	done  bool
}

// NewPipeline creates a pipeline for one reply.
func NewPipeline(cfg Config, participants *domain.Characters, actions []domain.Action, speaker domain.Character) *Pipeline {
	return &Pipeline{
		acc:   NewAccumulator(cfg.Terminators),
		chain: NewChain(cfg, participants, actions, speaker),
	}
}

// Feed accumulates chunk and returns every sentence released so far.
// Once Stopped reports true further chunks are ignored.
func (p *Pipeline) Feed(chunk string) []domain.SentenceContent {
	if p.done || p.chain.Stopped() {
		return nil
	}
	p.acc.Accumulate(chunk)
	var out []domain.SentenceContent
	for p.acc.HasNextRawFragment() && !p.chain.Stopped() {
		sentences, residue := p.chain.Process(p.acc.NextRawFragment())
		out = append(out, sentences...)
		p.acc.Refuse(residue)
	}
	return out
}

// Finish flushes the reply and appends the empty end-of-reply sentinel.
// Subsequent calls return nil.
func (p *Pipeline) Finish() []domain.SentenceContent {
	if p.done {
		return nil
	}
	p.done = true
	rest := p.acc.Flush()
	if p.chain.Stopped() {
		rest = ""
	}
	return p.chain.Flush(rest)
}

// Stopped reports whether the producer should cancel the stream.
func (p *Pipeline) Stopped() bool { return p.chain.Stopped() }

// Speaker returns the speaker the chain currently attributes text to.
func (p *Pipeline) Speaker() domain.Character { return p.chain.Settings().CurrentSpeaker }
