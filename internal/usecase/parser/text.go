package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// hasWords reports whether s carries at least one letter or digit.
func hasWords(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// countWords counts whitespace-separated tokens that contain a letter or digit.
func countWords(s string) int {
	n := 0
	for _, f := range strings.Fields(s) {
		if hasWords(f) {
			n++
		}
	}
	return n
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// terminatorSet answers membership queries over the configured terminators.
type terminatorSet string

func (t terminatorSet) has(r rune) bool { return strings.ContainsRune(string(t), r) }

// firstEnd returns the byte offset just past the first terminator run in s,
// or -1 when s holds none.
func (t terminatorSet) firstEnd(s string) int {
	idx := strings.IndexAny(s, string(t))
	if idx < 0 {
		return -1
	}
	pos := idx
	for pos < len(s) {
		r, size := utf8.DecodeRuneInString(s[pos:])
		if !t.has(r) {
			break
		}
		pos += size
	}
	return pos
}

// wrapAt cuts s at the last space within limit runes. Without a space it
// cuts hard at limit.
func wrapAt(s string, limit int) (head, tail string) {
	if limit < 1 {
		limit = 1
	}
	byteLimit := len(s)
	n := 0
	for i := range s {
		if n == limit {
			byteLimit = i
			break
		}
		n++
	}
	cut := strings.LastIndex(s[:byteLimit], " ")
	if cut <= 0 {
		cut = byteLimit
	}
	return s[:cut], s[cut:]
}
