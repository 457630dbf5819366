// Package flood rate-limits chat traffic per connection: a message
// budget over a sliding window plus a cooldown on verbatim repeats.
package flood

import (
	"sync"
	"time"
)

// Config holds chat flood-control settings.
type Config struct {
	Enabled       bool `yaml:"enabled"`
	MaxMessages   int  `yaml:"max_messages"`
	WindowSeconds int  `yaml:"window_seconds"`
	RepeatSeconds int  `yaml:"repeat_cooldown_seconds"`
}

// DefaultConfig returns sensible chat flood defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxMessages:   5,
		WindowSeconds: 10,
		RepeatSeconds: 30,
	}
}

// Tracker tracks chat activity for a single connection.
type Tracker struct {
	mu           sync.Mutex
	window       time.Duration
	repeat       time.Duration
	maxMessages  int
	enabled      bool
	messageTimes []time.Time
	lastMessages map[string]time.Time
}

// NewTracker creates a tracker from the config, filling zero values
// with defaults.
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = def.WindowSeconds
	}
	if cfg.RepeatSeconds <= 0 {
		cfg.RepeatSeconds = def.RepeatSeconds
	}
	return &Tracker{
		window:       time.Duration(cfg.WindowSeconds) * time.Second,
		repeat:       time.Duration(cfg.RepeatSeconds) * time.Second,
		maxMessages:  cfg.MaxMessages,
		enabled:      cfg.Enabled,
		lastMessages: make(map[string]time.Time),
	}
}

// Result is the outcome of a flood check.
type Result struct {
	Allowed     bool
	Reason      string
	WaitSeconds int
}

// Check decides whether a chat message may be sent now, recording it
// if allowed.
func (t *Tracker) Check(text string) Result {
	if !t.enabled {
		return Result{Allowed: true}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.cleanup(now)

	if lastTime, exists := t.lastMessages[text]; exists {
		if elapsed := now.Sub(lastTime); elapsed < t.repeat {
			remaining := t.repeat - elapsed
			return Result{
				Reason:      "repeated message",
				WaitSeconds: int(remaining.Seconds()) + 1,
			}
		}
	}

	if len(t.messageTimes) >= t.maxMessages {
		waitUntil := t.messageTimes[0].Add(t.window)
		return Result{
			Reason:      "sending too quickly",
			WaitSeconds: int(waitUntil.Sub(now).Seconds()) + 1,
		}
	}

	t.messageTimes = append(t.messageTimes, now)
	t.lastMessages[text] = now
	return Result{Allowed: true}
}

// cleanup drops entries that have aged out of their windows.
func (t *Tracker) cleanup(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.messageTimes[:0]
	for _, at := range t.messageTimes {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.messageTimes = kept

	repeatCutoff := now.Add(-t.repeat)
	for text, at := range t.lastMessages {
		if at.Before(repeatCutoff) {
			delete(t.lastMessages, text)
		}
	}
}
