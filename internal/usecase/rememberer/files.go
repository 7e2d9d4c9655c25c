package rememberer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"npc-voice/internal/domain"
)

// historyMessage is one persisted message of a conversation.
type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func readHistory(path string) ([][]historyMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history [][]historyMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return history, nil
}

// appendSummary adds summary as a new paragraph and returns the whole file.
func appendSummary(path, summary string) (string, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	content := string(existing) + strings.TrimSpace(summary) + "\n\n"
	if err := writeFile(path, []byte(content)); err != nil {
		return "", err
	}
	return content, nil
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
