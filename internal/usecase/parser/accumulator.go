package parser

import "strings"

// Accumulator buffers streamed tokens until a terminator arrives.
type Accumulator struct {
	terminators terminatorSet
	buf         string
	refused     string
}

// NewAccumulator creates an accumulator splitting on the given terminators.
func NewAccumulator(terminators string) *Accumulator {
	if terminators == "" {
		terminators = DefaultTerminators
	}
	return &Accumulator{terminators: terminatorSet(terminators)}
}

// Accumulate appends a chunk and re-cleans the buffer.
func (a *Accumulator) Accumulate(chunk string) {
	a.buf = Clean(a.buf + chunk)
}

// HasNextRawFragment reports whether the buffer holds a terminator.
// Refused residue does not count.
func (a *Accumulator) HasNextRawFragment() bool {
	return strings.ContainsAny(a.buf, string(a.terminators))
}

// NextRawFragment returns the refused residue followed by the buffer up to
// and including the first terminator run.
func (a *Accumulator) NextRawFragment() string {
	end := a.terminators.firstEnd(a.buf)
	if end < 0 {
		return ""
	}
	frag := a.refused + a.buf[:end]
	a.refused = ""
	a.buf = a.buf[end:]
	return frag
}

// Refuse pushes unconsumed text back in front of the next fragment.
func (a *Accumulator) Refuse(residue string) {
	a.refused = residue
}

// Flush drains everything left, residue first.
func (a *Accumulator) Flush() string {
	rest := a.refused + a.buf
	a.refused, a.buf = "", ""
	return rest
}
