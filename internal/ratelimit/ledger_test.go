package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLedger_LoadMissing(t *testing.T) {
	l := NewFileLedger(filepath.Join(t.TempDir(), "rate_limit.json"))

	entries, err := l.Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileLedger_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_limit.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	entries, err := NewFileLedger(path).Load()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileLedger_SkipsBadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_limit.json")
	content := `{"requests": [{"ts": 1, "model": "m", "tokens": 2}, {"ts": "bad"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	entries, err := NewFileLedger(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{TS: 1, Model: "m", Tokens: 2}}, entries)
}

func TestFileLedger_SaveKeepsExtraKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".ralph", "rate_limit.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"extra": {"keep": true}, "requests": []}`), 0644))

	l := NewFileLedger(path)
	require.NoError(t, l.Save([]Entry{{TS: 12.5, Model: "m", Tokens: 3}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, map[string]any{"keep": true}, payload["extra"])

	entries, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{TS: 12.5, Model: "m", Tokens: 3}}, entries)
}

func TestFileLedger_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rate_limit.json")
	l := NewFileLedger(path)

	require.NoError(t, l.Save(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requests": []}`, string(data))
}

func TestFileLedger_ImplementsLedger(t *testing.T) {
	var _ Ledger = (*FileLedger)(nil)
}
