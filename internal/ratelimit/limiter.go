// Package ratelimit throttles agent requests per model over a sliding window
// using a persisted ledger of recent requests.
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultWindow is the accounting window for both caps.
const DefaultWindow = 60 * time.Second

// Settings are the per-window caps for one model. Zero disables a cap.
type Settings struct {
	TPM int `mapstructure:"tpm" yaml:"tpm"`
	RPM int `mapstructure:"rpm" yaml:"rpm"`
}

// FallbackSettings apply to models without an explicit entry.
var FallbackSettings = Settings{TPM: 200_000, RPM: 500}

// DefaultSettings returns the built-in caps per model.
func DefaultSettings() map[string]Settings {
	return map[string]Settings{
		"gpt-5.1-codex-mini": {TPM: 200_000, RPM: 500},
		"gpt-5.1-codex":      {TPM: 500_000, RPM: 500},
		"gpt-5.2-codex":      {TPM: 500_000, RPM: 500},
	}
}

// Options configures a Limiter.
type Options struct {
	// Window is the sliding window. Zero uses DefaultWindow.
	Window time.Duration

	// Models overrides caps per model. Nil uses DefaultSettings.
	Models map[string]Settings

	// Fallback applies to models missing from Models. Zero uses FallbackSettings.
	Fallback Settings

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time

	// Logger receives throttle messages. Nil discards.
	Logger *slog.Logger
}

// Limiter computes pre-call delays and records usage in a Ledger.
type Limiter struct {
	ledger   Ledger
	window   time.Duration
	models   map[string]Settings
	fallback Settings
	now      func() time.Time
	logger   *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter over the given ledger.
func NewLimiter(ledger Ledger, opts Options) *Limiter {
	l := &Limiter{
		ledger:   ledger,
		window:   opts.Window,
		models:   opts.Models,
		fallback: opts.Fallback,
		now:      opts.Now,
		logger:   opts.Logger,
		sleep:    Sleep,
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.models == nil {
		l.models = DefaultSettings()
	}
	if l.fallback == (Settings{}) {
		l.fallback = FallbackSettings
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// SettingsFor returns the caps for model.
func (l *Limiter) SettingsFor(model string) Settings {
	if s, ok := l.models[model]; ok {
		return s
	}
	return l.fallback
}

// Delay returns how long to wait before issuing a request of estimate tokens.
func (l *Limiter) Delay(model string, estimate int) (time.Duration, error) {
	entries, err := l.ledger.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load rate ledger: %w", err)
	}
	return computeDelay(entries, model, l.SettingsFor(model), estimate, l.now(), l.window), nil
}

// Wait sleeps for the pre-call delay. It returns the delay it slept for, or
// ctx.Err() if the context is cancelled first.
func (l *Limiter) Wait(ctx context.Context, model string, estimate int) (time.Duration, error) {
	delay, err := l.Delay(model, estimate)
	if err != nil {
		return 0, err
	}
	if delay <= 0 {
		return 0, nil
	}

	l.logger.Info("rate limit throttle", "model", model, "sleep", delay, "estimated_tokens", estimate)
	if err := l.sleep(ctx, delay); err != nil {
		return delay, err
	}
	return delay, nil
}

// Record prunes entries outside the window and appends a new one.
func (l *Limiter) Record(model string, tokens int) error {
	entries, err := l.ledger.Load()
	if err != nil {
		return fmt.Errorf("failed to load rate ledger: %w", err)
	}

	now := l.now()
	nowSec := unixSeconds(now)
	windowSec := l.window.Seconds()

	kept := make([]Entry, 0, len(entries)+1)
	for _, e := range entries {
		if nowSec-e.TS < windowSec {
			kept = append(kept, e)
		}
	}
	kept = append(kept, Entry{TS: nowSec, Model: model, Tokens: tokens})

	if err := l.ledger.Save(kept); err != nil {
		return fmt.Errorf("failed to save rate ledger: %w", err)
	}
	return nil
}

// computeDelay walks the model's recent entries oldest first to find the
// entry whose expiry brings usage back under each cap. The result is rounded
// up to whole seconds and is never negative.
func computeDelay(entries []Entry, model string, s Settings, estimate int, now time.Time, window time.Duration) time.Duration {
	nowSec := unixSeconds(now)
	windowSec := window.Seconds()

	var recent []Entry
	for _, e := range entries {
		if e.Model == model && nowSec-e.TS < windowSec {
			recent = append(recent, e)
		}
	}
	if len(recent) == 0 {
		return 0
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].TS < recent[j].TS })

	expiry := func(e Entry) float64 { return e.TS + windowSec - nowSec }
	var wait float64

	if s.RPM > 0 && len(recent) >= s.RPM {
		wait = math.Max(wait, expiry(recent[len(recent)-s.RPM]))
	}

	if s.TPM > 0 {
		used := 0
		for _, e := range recent {
			used += e.Tokens
		}
		if over := used + estimate - s.TPM; over > 0 {
			// Wait for the newest entry if even an empty window cannot fit the request.
			target := recent[len(recent)-1]
			dropped := 0
			for _, e := range recent {
				dropped += e.Tokens
				if dropped >= over {
					target = e
					break
				}
			}
			wait = math.Max(wait, expiry(target))
		}
	}

	if wait <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(wait)) * time.Second
}

// EstimateTokens approximates the token count of a payload of size bytes.
func EstimateTokens(size int) int {
	const floor = 1000
	if size <= 0 {
		return floor
	}
	est := (size + 3) / 4
	if est < floor {
		return floor
	}
	return est
}

var (
	rateLimitMention = regexp.MustCompile(`(?i)rate[ -]limit`)
	retryAfterHint   = regexp.MustCompile(`(?i)try again in\s*([0-9]+(?:\.[0-9]+)?)\s*s`)
)

// ParseRetryAfter extracts a "try again in Ns" hint from a rate-limit
// rejection. The delay is rounded up to whole seconds.
func ParseRetryAfter(text string) (time.Duration, bool) {
	if !rateLimitMention.MatchString(text) {
		return 0, false
	}
	m := retryAfterHint.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(math.Ceil(secs)) * time.Second, true
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
