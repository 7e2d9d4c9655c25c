package domain

import (
	"regexp"
	"sort"
)

// PromptPlaceholders is the closed set of names a prompt template may use.
var PromptPlaceholders = map[string]bool{
	"player_name":            true,
	"player_description":     true,
	"player_equipment":       true,
	"name":                   true,
	"names":                  true,
	"names_w_player":         true,
	"bio":                    true,
	"bios":                   true,
	"trust":                  true,
	"equipment":              true,
	"location":               true,
	"weather":                true,
	"time":                   true,
	"time_group":             true,
	"language":               true,
	"conversation_summary":   true,
	"conversation_summaries": true,
	"actions":                true,
	"game":                   true,
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplatePlaceholders returns the distinct placeholder names used by tmpl, sorted.
func TemplatePlaceholders(tmpl string) []string {
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UnknownPlaceholders returns the placeholders of tmpl outside PromptPlaceholders.
func UnknownPlaceholders(tmpl string) []string {
	var out []string
	for _, name := range TemplatePlaceholders(tmpl) {
		if !PromptPlaceholders[name] {
			out = append(out, name)
		}
	}
	return out
}

// RenderTemplate substitutes every {name} in tmpl from values. A placeholder
// outside PromptPlaceholders fails with ErrUnknownPlaceholder; a known name
// missing from values renders empty.
func RenderTemplate(tmpl string, values map[string]string) (string, error) {
	if unknown := UnknownPlaceholders(tmpl); len(unknown) > 0 {
		return "", NewDomainError("RenderTemplate", ErrUnknownPlaceholder, unknown[0])
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		return values[m[1:len(m)-1]]
	}), nil
}
