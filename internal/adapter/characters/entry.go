// Package characters loads the character roster and user overrides and
// resolves game-announced participants against them.
package characters

import (
	"strings"
)

// Entry is one roster or override row.
type Entry struct {
	Name       string `json:"name"`
	BaseID     string `json:"base_id"`
	RefID      string `json:"ref_id"`
	Race       string `json:"race"`
	Gender     string `json:"gender"`
	VoiceModel string `json:"voice_model"`
	Bio        string `json:"bio"`
}

// partialIDLengths are the suffix lengths tried when ids do not match exactly.
var partialIDLengths = []int{6, 5, 4, 3}

// normalizeID lowercases a hex form id and strips the 0x prefix and
// leading zeros.
func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0x")
	return strings.TrimLeft(id, "0")
}

// idsMatch reports an exact match of normalized ids, or failing that a
// match of their last 6, 5, 4 or 3 hex digits.
func idsMatch(a, b string) bool {
	a, b = normalizeID(a), normalizeID(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	for _, n := range partialIDLengths {
		if len(a) >= n && len(b) >= n && a[len(a)-n:] == b[len(b)-n:] {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sameRace(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// mergeFrom copies the non-empty fields of o onto e.
func (e *Entry) mergeFrom(o Entry) {
	if o.RefID != "" {
		e.RefID = o.RefID
	}
	if o.Race != "" {
		e.Race = o.Race
	}
	if o.Gender != "" {
		e.Gender = o.Gender
	}
	if o.VoiceModel != "" {
		e.VoiceModel = o.VoiceModel
	}
	if o.Bio != "" {
		e.Bio = o.Bio
	}
}
