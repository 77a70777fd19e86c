package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Entry is one recorded agent request.
type Entry struct {
	// TS is the request time in Unix seconds.
	TS float64 `json:"ts"`

	// Model is the agent model the request was made against.
	Model string `json:"model"`

	// Tokens is the token usage charged to the request.
	Tokens int `json:"tokens"`
}

// Ledger persists recent requests. Callers perform read-modify-write:
// Load, adjust the slice, Save. Implementations assume a single writer.
type Ledger interface {
	// Load returns the recorded entries. A missing or unreadable ledger
	// yields no entries rather than an error.
	Load() ([]Entry, error)

	// Save replaces the recorded entries.
	Save(entries []Entry) error
}

// FileLedger stores entries in a JSON file shaped {"requests": [...]}.
// Other top-level keys in the file are kept on Save.
type FileLedger struct {
	path string
}

// NewFileLedger creates a ledger backed by the file at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string {
	return l.path
}

// Load reads the ledger. Missing files, malformed JSON and malformed
// entries are treated as empty.
func (l *FileLedger) Load() ([]Entry, error) {
	payload := l.readPayload()

	raw, ok := payload["requests"]
	if !ok {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil
	}

	var entries []Entry
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Save writes the entries, keeping any other top-level keys.
func (l *FileLedger) Save(entries []Entry) error {
	payload := l.readPayload()
	if entries == nil {
		entries = []Entry{}
	}

	requests, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entries: %w", err)
	}
	payload["requests"] = requests

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tmpFile := l.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, l.path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (l *FileLedger) readPayload() map[string]json.RawMessage {
	payload := map[string]json.RawMessage{}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return payload
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return map[string]json.RawMessage{}
	}
	return payload
}
