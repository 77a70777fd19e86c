// Package stream echoes the agent's JSON event stream to a terminal while it runs.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ansiCSI strips common ANSI escape sequences (CSI).
var ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Options configures the stream processor behavior.
type Options struct {
	// ShowCommands prints shell commands the agent runs and their failures.
	ShowCommands bool

	// ShowReasoning prints the agent's reasoning summaries.
	ShowReasoning bool

	// DebugWriter, when set, receives one line per unhandled event type.
	DebugWriter io.Writer
}

// Processor renders agent events as readable text.
type Processor struct {
	opts Options
	out  *bufio.Writer
}

// NewProcessor creates a stream processor that writes to the given writer.
func NewProcessor(w io.Writer, opts Options) *Processor {
	return &Processor{
		opts: opts,
		out:  bufio.NewWriterSize(w, 64*1024),
	}
}

// Process reads from r until EOF and writes each recognised event.
func (p *Processor) Process(r io.Reader) error {
	err := JsonObjects(r, func(raw []byte) {
		p.processObject(raw)
		_ = p.out.Flush() // real-time streaming
	})
	if err != nil && err != io.EOF {
		return err
	}
	return p.out.Flush()
}

// JsonObjects reads a byte stream and yields complete top-level JSON objects
// even if they are concatenated without newlines.
// It ignores any non-JSON noise between objects by waiting for the next '{'.
// The returned error is io.EOF when the stream ended normally.
func JsonObjects(r io.Reader, onObject func([]byte)) error {
	br := bufio.NewReaderSize(r, 64*1024)

	var buf bytes.Buffer
	capturing := false
	depth := 0
	inStr := false
	esc := false

	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}

		if !capturing {
			if b == '{' {
				capturing = true
				depth = 1
				inStr = false
				esc = false
				buf.Reset()
				buf.WriteByte(b)
			}
			continue
		}

		buf.WriteByte(b)

		if inStr {
			switch {
			case esc:
				esc = false
			case b == '\\':
				esc = true
			case b == '"':
				inStr = false
			}
			continue
		}

		switch b {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := make([]byte, buf.Len())
				copy(raw, buf.Bytes())
				onObject(raw)

				capturing = false
				buf.Reset()
			}
		}
	}
}

// event is the envelope of one agent event.
type event struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Item    map[string]any `json:"item"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
	Usage map[string]any `json:"usage"`
}

func (p *Processor) processObject(raw []byte) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "item.started":
		if getString(ev.Item, "type") == "command_execution" && p.opts.ShowCommands {
			p.line("$ " + Sanitize(getString(ev.Item, "command")))
		}
	case "item.completed":
		p.processItem(ev.Item)
	case "turn.failed":
		msg := "turn failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		p.line("error: " + Sanitize(msg))
	case "error":
		p.line("error: " + Sanitize(firstNonEmpty(ev.Message, "unknown error")))
	case "thread.started", "turn.started", "turn.completed", "item.updated":
		// nothing to show
	default:
		if p.opts.DebugWriter != nil && ev.Type != "" {
			_, _ = fmt.Fprintf(p.opts.DebugWriter, "UNHANDLED event type=%s\n", ev.Type)
		}
	}
}

func (p *Processor) processItem(item map[string]any) {
	switch getString(item, "type") {
	case "agent_message":
		if s := getString(item, "text"); s != "" {
			p.line(Sanitize(s))
		}
	case "reasoning":
		if p.opts.ShowReasoning {
			if s := getString(item, "text"); s != "" {
				p.line("[reasoning] " + Sanitize(s))
			}
		}
	case "command_execution":
		if !p.opts.ShowCommands {
			return
		}
		if code, ok := item["exit_code"].(float64); ok && code != 0 {
			p.line(fmt.Sprintf("  exit %d", int(code)))
		}
	case "file_change":
		changes, _ := item["changes"].([]any)
		for _, c := range changes {
			change, ok := c.(map[string]any)
			if !ok {
				continue
			}
			p.line(fmt.Sprintf("  %s %s", changeMark(getString(change, "kind")), Sanitize(getString(change, "path"))))
		}
	case "error":
		p.line("error: " + Sanitize(getString(item, "message")))
	}
}

func (p *Processor) line(s string) {
	_, _ = p.out.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		_, _ = p.out.WriteString("\n")
	}
}

func changeMark(kind string) string {
	switch kind {
	case "add":
		return "A"
	case "delete":
		return "D"
	default:
		return "M"
	}
}

// Sanitize removes ANSI CSI sequences and control chars except \n, \t, \r.
func Sanitize(s string) string {
	s = ansiCSI.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n', '\t', '\r':
			b.WriteRune(r)
		default:
			// drop ASCII control chars; keep printable + non-ASCII runes
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
