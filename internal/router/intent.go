// Package router implements the hybrid voice/vision pipeline: it watches the
// transcript stream for vision intent, dispatches one-shot image queries, and
// guards the microphone against the assistant's own playback.
package router

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Intent is the classification result for one user utterance.
type Intent int

const (
	// IntentVoice continues the normal voice conversation; the utterance is
	// already with the speech model and needs no action from the router.
	IntentVoice Intent = iota

	// IntentVision dispatches a one-shot image query for the utterance.
	IntentVision
)

// String returns the human-readable name of the intent.
func (i Intent) String() string {
	switch i {
	case IntentVoice:
		return "voice"
	case IntentVision:
		return "vision"
	default:
		return "unknown"
	}
}

// defaultVisionPatterns holds the built-in per-language keyword patterns.
// Patterns are checked in order against the trimmed transcript; the first
// match wins.
var defaultVisionPatterns = map[string][]string{
	"en": {
		`(?i)\bwhat (do|can) you see\b`,
		`(?i)\bcan you see\b`,
		`(?i)\b(look|take a look) (at|around)\b`,
		`(?i)\bdescribe (this|that|it|what you see)\b`,
		`(?i)\bwhat('s| is) (this|that|in front of you|on the table)\b`,
		`(?i)\bread (this|that|the)\b`,
		`(?i)\bhow many .* (do you see|are there)\b`,
		`(?i)\b(use|check|through) (the|your) camera\b`,
	},
	"de": {
		`(?i)\bwas siehst du\b`,
		`(?i)\bkannst du .* sehen\b`,
		`(?i)\bschau (mal|dir|dich)\b`,
		`(?i)\bbeschreib(e|en sie)? (das|mal|was du siehst)\b`,
		`(?i)\bwas ist (das|hier|da vorne)\b`,
		`(?i)\blies (das|mal|den|die)\b`,
		`(?i)\b(mit|durch) (der|die|deine) kamera\b`,
	},
}

// Classifier decides whether an utterance is a vision query based on
// per-language keyword patterns. It is safe for concurrent use; patterns are
// replaceable at runtime for hot reload.
type Classifier struct {
	mu       sync.RWMutex
	language string
	patterns map[string][]*regexp.Regexp
}

// NewClassifier creates a Classifier with the built-in patterns for all
// known languages. language selects the active set; empty defaults to "en".
// Unknown languages fall back to the English patterns.
func NewClassifier(language string) *Classifier {
	c := &Classifier{
		language: normalizeLanguage(language),
		patterns: make(map[string][]*regexp.Regexp, len(defaultVisionPatterns)),
	}
	for lang, exprs := range defaultVisionPatterns {
		compiled := make([]*regexp.Regexp, len(exprs))
		for i, expr := range exprs {
			compiled[i] = regexp.MustCompile(expr)
		}
		c.patterns[lang] = compiled
	}
	return c
}

// SetLanguage switches the active pattern set.
func (c *Classifier) SetLanguage(language string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.language = normalizeLanguage(language)
}

// SetPatterns replaces the pattern set for one language. Invalid expressions
// are rejected wholesale; the previous set stays active.
func (c *Classifier) SetPatterns(language string, exprs []string) error {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("router: pattern %q: %w", expr, err)
		}
		compiled[i] = re
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns[normalizeLanguage(language)] = compiled
	return nil
}

// Classify returns the intent for text. Empty or whitespace-only text is a
// voice intent.
func (c *Classifier) Classify(text string) Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return IntentVoice
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	patterns, ok := c.patterns[c.language]
	if !ok {
		patterns = c.patterns["en"]
	}
	for _, re := range patterns {
		if re.MatchString(trimmed) {
			return IntentVision
		}
	}
	return IntentVoice
}

func normalizeLanguage(language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return "en"
	}
	// Reduce BCP-47 tags like "en-US" to their primary subtag.
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}
	return lang
}
