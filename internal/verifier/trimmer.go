package verifier

import (
	"errors"
	"strings"
)

// TruncationMarker starts output that lost its head to trimming.
const TruncationMarker = "... [output truncated]"

// Default limits for output kept in a VerificationResult.
const (
	DefaultMaxLines = 100
	DefaultMaxBytes = 8192
)

// TrimOptions bounds the output kept per command. Zero disables a limit.
type TrimOptions struct {
	MaxLines int
	MaxBytes int
}

// Validate rejects negative limits.
func (o TrimOptions) Validate() error {
	if o.MaxLines < 0 || o.MaxBytes < 0 {
		return errors.New("trim limits cannot be negative")
	}
	return nil
}

// DefaultTrimOptions returns the default limits.
func DefaultTrimOptions() TrimOptions {
	return TrimOptions{MaxLines: DefaultMaxLines, MaxBytes: DefaultMaxBytes}
}

// TrimOutput keeps the tail of output within the limits, where test
// failures and compiler errors usually are. Trimmed output is prefixed
// with TruncationMarker.
func TrimOutput(output string, opts TrimOptions) string {
	trimmed := false

	if opts.MaxLines > 0 {
		lines := strings.Split(output, "\n")
		if len(lines) > opts.MaxLines {
			output = strings.Join(lines[len(lines)-opts.MaxLines:], "\n")
			trimmed = true
		}
	}

	if opts.MaxBytes > 0 {
		budget := opts.MaxBytes
		if trimmed || len(output) > budget {
			budget -= len(TruncationMarker) + 1
		}
		if budget <= 0 {
			return TruncationMarker
		}
		if len(output) > budget {
			output = output[len(output)-budget:]
			trimmed = true
		}
	}

	if trimmed {
		return TruncationMarker + "\n" + output
	}
	return output
}
