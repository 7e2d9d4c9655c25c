package domain

import (
	"strings"
	"unicode/utf8"
)

// Game identifies the host game of the mod.
type Game string

const (
	GameSkyrim     Game = "skyrim"
	GameSkyrimVR   Game = "skyrimvr"
	GameFallout4   Game = "fallout4"
	GameFallout4VR Game = "fallout4vr"
)

// IsFallout reports whether g is a Fallout 4 build.
func (g Game) IsFallout() bool {
	return g == GameFallout4 || g == GameFallout4VR
}

// Valid reports whether g is a known game.
func (g Game) Valid() bool {
	switch g {
	case GameSkyrim, GameSkyrimVR, GameFallout4, GameFallout4VR:
		return true
	}
	return false
}

// DefaultLocation is used until the game reports a location.
func (g Game) DefaultLocation() string {
	if g.IsFallout() {
		return "the Commonwealth"
	}
	return "Skyrim"
}

const (
	skyrimMaxChars  = 500
	falloutMaxBytes = 148
	ellipsis        = "..."
)

// TruncateLine fits text into the game's subtitle limit: characters for
// Skyrim, UTF-8 bytes for Fallout 4. A code point is never split.
func (g Game) TruncateLine(text string) string {
	if g.IsFallout() {
		return truncateBytes(text, falloutMaxBytes)
	}
	return truncateRunes(text, skyrimMaxChars)
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	keep := maxRunes - len(ellipsis)
	n := 0
	for i := range s {
		if n == keep {
			return strings.TrimRight(s[:i], " ") + ellipsis
		}
		n++
	}
	return s
}

func truncateBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	limit := maxBytes - len(ellipsis)
	end := 0
	for i, r := range s {
		if i+utf8.RuneLen(r) > limit {
			break
		}
		end = i + utf8.RuneLen(r)
	}
	return strings.TrimRight(s[:end], " ") + ellipsis
}
