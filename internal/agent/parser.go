package agent

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/yarlson/lever/internal/stream"
)

// usageEvent is the subset of a turn.completed event that carries token usage.
// Both the responses-style and the chat-style field names are accepted.
type usageEvent struct {
	Type  string `json:"type"`
	Usage *struct {
		InputTokens      *int64 `json:"input_tokens"`
		PromptTokens     *int64 `json:"prompt_tokens"`
		OutputTokens     *int64 `json:"output_tokens"`
		CompletionTokens *int64 `json:"completion_tokens"`
		TotalTokens      *int64 `json:"total_tokens"`
	} `json:"usage"`
}

// ParseUsage scans the agent's event stream for turn.completed events and
// returns the token total of the last one that reported a positive count.
// Lines that are not JSON objects (stderr noise) are skipped.
func ParseUsage(r io.Reader) (int, bool, error) {
	var (
		tokens int
		found  bool
	)

	err := stream.JsonObjects(r, func(raw []byte) {
		var ev usageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return
		}
		if ev.Type != "turn.completed" || ev.Usage == nil {
			return
		}

		u := ev.Usage
		input := firstSet(u.InputTokens, u.PromptTokens)
		output := firstSet(u.OutputTokens, u.CompletionTokens)
		total := input + output
		if u.TotalTokens != nil {
			total = *u.TotalTokens
		}
		if total > 0 {
			tokens = int(total)
			found = true
		}
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, false, err
	}
	return tokens, found, nil
}

// UsageFromLog reads the token total from an agent log file.
// A missing or unreadable log reports no usage.
func UsageFromLog(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer func() { _ = f.Close() }()

	tokens, ok, err := ParseUsage(f)
	if err != nil {
		return 0, false
	}
	return tokens, ok
}

func firstSet(vals ...*int64) int64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
