// Package chatfilter screens table chat for banned words, either
// masking them or blocking the message outright.
package chatfilter

import (
	"regexp"
	"strings"
)

// Mode determines how the filter handles a violation.
type Mode string

const (
	// ModeReplace masks banned words with asterisks and lets the
	// message through.
	ModeReplace Mode = "REPLACE"

	// ModeBlock rejects the entire message.
	ModeBlock Mode = "BLOCK"
)

// Config holds the chat filter configuration.
type Config struct {
	Enabled     bool     `yaml:"enabled"`
	Mode        Mode     `yaml:"mode"`
	BannedWords []string `yaml:"banned_words"`
}

// Result is the outcome of filtering one message.
type Result struct {
	Filtered string
	Violated bool
	Matched  []string
}

// Filter screens chat messages against a banned-word list.
type Filter struct {
	enabled  bool
	mode     Mode
	patterns []*wordPattern
}

type wordPattern struct {
	word    string
	pattern *regexp.Regexp
}

// New compiles a filter from the config. A nil config disables it.
func New(cfg *Config) *Filter {
	if cfg == nil {
		return &Filter{}
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeReplace
	}

	f := &Filter{
		enabled:  cfg.Enabled,
		mode:     mode,
		patterns: make([]*wordPattern, 0, len(cfg.BannedWords)),
	}

	for _, word := range cfg.BannedWords {
		if word == "" {
			continue
		}
		// Word-boundary match so "class" never trips on "ass".
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		f.patterns = append(f.patterns, &wordPattern{word: word, pattern: pattern})
	}

	return f
}

// Check screens a message, masking violations in REPLACE mode.
func (f *Filter) Check(text string) Result {
	result := Result{Filtered: text}

	if !f.enabled || len(f.patterns) == 0 {
		return result
	}

	for _, wp := range f.patterns {
		if wp.pattern.MatchString(text) {
			result.Violated = true
			result.Matched = append(result.Matched, wp.word)

			if f.mode == ModeReplace {
				result.Filtered = wp.pattern.ReplaceAllStringFunc(result.Filtered, func(match string) string {
					return strings.Repeat("*", len(match))
				})
			}
		}
	}

	return result
}

// IsBlockMode reports whether violations reject the whole message.
func (f *Filter) IsBlockMode() bool {
	return f.mode == ModeBlock
}
