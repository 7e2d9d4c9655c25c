// Package function lets a small LLM pick a game function alongside the
// NPC's spoken reply.
package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	kaptinlin "github.com/kaptinlin/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"npc-voice/internal/domain"
)

// descriptorSchema is what every actions/functions/*.json file must match.
const descriptorSchema = `{
  "type": "object",
  "required": ["identifier", "name", "description", "parameters"],
  "additionalProperties": false,
  "properties": {
    "identifier":    {"type": "string", "minLength": 1},
    "name":          {"type": "string", "pattern": "^[A-Za-z0-9_-]{1,64}$"},
    "description":   {"type": "string", "minLength": 1},
    "prompt_hint":   {"type": "string"},
    "allowed_games": {"type": "array", "items": {"enum": ["skyrim", "skyrimvr", "fallout4", "fallout4vr"]}},
    "condition":     {"type": "string"},
    "tooltips":      {"type": "array", "items": {"type": "string"}},
    "parameters": {
      "type": "object",
      "required": ["type"],
      "properties": {"type": {"const": "object"}}
    }
  }
}`

// Definition is one function the LLM may call.
type Definition struct {
	Identifier   string          `json:"identifier"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	PromptHint   string          `json:"prompt_hint,omitempty"`
	AllowedGames []domain.Game   `json:"allowed_games,omitempty"`
	Condition    string          `json:"condition,omitempty"`
	Tooltips     []string        `json:"tooltips,omitempty"`
	Parameters   json.RawMessage `json:"parameters"`

	schema *kaptinlin.Schema
}

// AllowedIn reports whether the function is offered in game.
func (d *Definition) AllowedIn(game domain.Game) bool {
	if len(d.AllowedGames) == 0 {
		return true
	}
	for _, g := range d.AllowedGames {
		if g == game {
			return true
		}
	}
	return false
}

// ValidateArguments checks raw tool-call arguments against the parameter
// schema.
func (d *Definition) ValidateArguments(raw json.RawMessage) (map[string]any, error) {
	var args map[string]any
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments of %s: %w", d.Name, err)
	}
	if d.schema != nil {
		if result := d.schema.Validate(args); !result.IsValid() {
			return nil, fmt.Errorf("arguments of %s: %s", d.Name, result.Error())
		}
	}
	return args, nil
}

func (d *Definition) toolSchema() domain.ToolSchema {
	return domain.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// Condition gates a function on the named context flags. A flag prefixed
// with "!" must be false.
type Condition struct {
	Name     string   `json:"name"`
	Operator string   `json:"operator"` // "and" (default) or "or"
	Flags    []string `json:"flags"`
}

// Eval evaluates the condition over flags. Unknown flags are false.
func (c Condition) Eval(flags map[string]bool) bool {
	if len(c.Flags) == 0 {
		return true
	}
	or := strings.EqualFold(c.Operator, "or")
	for _, f := range c.Flags {
		want := true
		if strings.HasPrefix(f, "!") {
			want, f = false, f[1:]
		}
		hit := flags[f] == want
		if or && hit {
			return true
		}
		if !or && !hit {
			return false
		}
	}
	return !or
}

// Tooltip is a static hint appended to the function prompt. Modes, when
// set, is the table a function's mode argument must come from.
type Tooltip struct {
	Name  string   `json:"name"`
	Text  string   `json:"text"`
	Modes []string `json:"modes,omitempty"`
}

// Registry is the function catalog loaded at startup.
type Registry struct {
	defs       []*Definition
	conditions map[string]Condition
	tooltips   map[string]Tooltip
}

// NewRegistry builds a registry from already decoded parts. Parameter
// schemas are compiled here.
func NewRegistry(defs []*Definition, conditions []Condition, tooltips []Tooltip) (*Registry, error) {
	r := &Registry{
		conditions: make(map[string]Condition, len(conditions)),
		tooltips:   make(map[string]Tooltip, len(tooltips)),
	}
	for _, c := range conditions {
		r.conditions[c.Name] = c
	}
	for _, t := range tooltips {
		r.tooltips[t.Name] = t
	}
	seen := make(map[string]bool, len(defs))
	var errs []error
	for _, d := range defs {
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("function %s: duplicate name", d.Name))
			continue
		}
		seen[d.Name] = true
		if d.Condition != "" {
			if _, ok := r.conditions[d.Condition]; !ok {
				errs = append(errs, fmt.Errorf("function %s: unknown condition %q", d.Name, d.Condition))
				continue
			}
		}
		schema, err := kaptinlin.NewCompiler().Compile(d.Parameters)
		if err != nil {
			errs = append(errs, fmt.Errorf("function %s: parameters: %w", d.Name, err))
			continue
		}
		d.schema = schema
		r.defs = append(r.defs, d)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, domain.NewDomainError("function.NewRegistry", domain.ErrConfigParse, err.Error())
	}
	return r, nil
}

// LoadRegistry reads functions/, conditions/ and tooltips/ under dir. A
// missing directory yields an empty registry.
func LoadRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	meta, err := compileDescriptorSchema()
	if err != nil {
		return nil, err
	}

	var defs []*Definition
	err = eachJSON(filepath.Join(dir, "functions"), func(path string, raw []byte) error {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if err := meta.Validate(v); err != nil {
			return err
		}
		var d Definition
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		defs = append(defs, &d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var conditions []Condition
	err = eachJSON(filepath.Join(dir, "conditions"), func(_ string, raw []byte) error {
		list, err := decodeOneOrMany[Condition](raw)
		conditions = append(conditions, list...)
		return err
	})
	if err != nil {
		return nil, err
	}

	var tooltips []Tooltip
	err = eachJSON(filepath.Join(dir, "tooltips"), func(_ string, raw []byte) error {
		list, err := decodeOneOrMany[Tooltip](raw)
		tooltips = append(tooltips, list...)
		return err
	})
	if err != nil {
		return nil, err
	}

	reg, err := NewRegistry(defs, conditions, tooltips)
	if err != nil {
		return nil, err
	}
	logger.Info("function registry loaded", "functions", len(reg.defs), "conditions", len(conditions), "tooltips", len(tooltips))
	return reg, nil
}

// Len returns the number of functions.
func (r *Registry) Len() int { return len(r.defs) }

// Lookup returns the function called name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Available returns the functions offered for game under flags.
func (r *Registry) Available(game domain.Game, flags map[string]bool) []*Definition {
	var out []*Definition
	for _, d := range r.defs {
		if !d.AllowedIn(game) {
			continue
		}
		if d.Condition != "" && !r.conditions[d.Condition].Eval(flags) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func compileDescriptorSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("function.json", strings.NewReader(descriptorSchema)); err != nil {
		return nil, fmt.Errorf("add descriptor schema: %w", err)
	}
	return compiler.Compile("function.json")
}

// eachJSON calls fn for every .json file of dir in name order.
func eachJSON(dir string, fn func(path string, raw []byte) error) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return domain.NewDomainError("function.LoadRegistry", domain.ErrConfigParse, err.Error())
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err == nil {
			err = fn(path, raw)
		}
		if err != nil {
			return domain.NewDomainError("function.LoadRegistry", domain.ErrConfigParse, fmt.Sprintf("%s: %v", path, err))
		}
	}
	return nil
}

func decodeOneOrMany[T any](raw []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []T
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
