package router

import (
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
)

// defaultDuplicateThreshold is the Jaro-Winkler similarity above which an
// utterance heard during playback counts as an echo of the assistant's own
// speech.
const defaultDuplicateThreshold = 0.90

// echoGracePeriod extends echo suppression past the end of playback, to
// cover transcripts that arrive late while the tail of the assistant's
// speech is still in the recognition pipeline.
const echoGracePeriod = 1500 * time.Millisecond

// SpeakingLock tracks whether the assistant is currently speaking and
// suppresses utterances that are near-duplicates of its own words picked up
// by the microphone. All methods are safe for concurrent use.
type SpeakingLock struct {
	mu         sync.Mutex
	speaking   bool
	spokenText string
	endedAt    time.Time
	threshold  float64
}

// NewSpeakingLock creates a SpeakingLock. threshold <= 0 uses the default.
func NewSpeakingLock(threshold float64) *SpeakingLock {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultDuplicateThreshold
	}
	return &SpeakingLock{threshold: threshold}
}

// BeginSpeaking marks the start of assistant playback. text is what the
// assistant is saying, kept for echo comparison.
func (l *SpeakingLock) BeginSpeaking(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speaking = true
	if text != "" {
		l.spokenText = text
	}
}

// EndSpeaking marks the end of assistant playback. The echo comparison stays
// armed for a short grace period afterwards.
func (l *SpeakingLock) EndSpeaking() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.speaking {
		return
	}
	l.speaking = false
	l.endedAt = time.Now()
}

// SetThreshold replaces the similarity threshold. Values outside (0, 1]
// select the default. Used by config hot reload.
func (l *SpeakingLock) SetThreshold(threshold float64) {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultDuplicateThreshold
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.threshold = threshold
}

// Speaking reports whether assistant playback is active.
func (l *SpeakingLock) Speaking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speaking
}

// DuplicateOutput reports whether text repeats what was just spoken. Armed
// like [SpeakingLock.IsEcho]; used to drop a duplicate response turn arriving
// during or right after playback.
func (l *SpeakingLock) DuplicateOutput(text string) bool {
	l.mu.Lock()
	spoken := l.spokenText
	armed := l.speaking || (!l.endedAt.IsZero() && time.Since(l.endedAt) < echoGracePeriod)
	l.mu.Unlock()

	if !armed || spoken == "" || text == "" {
		return false
	}
	return normalizeUtterance(text) == normalizeUtterance(spoken)
}

// IsEcho reports whether utterance should be suppressed as an echo of the
// assistant's own speech. It is true only while speaking (or within the
// grace period after) and the utterance is a near-duplicate of what was
// said. Containment of the utterance in the spoken text counts as an echo
// regardless of the similarity threshold; the threshold gates only the
// fuzzy comparison.
func (l *SpeakingLock) IsEcho(utterance string) bool {
	l.mu.Lock()
	spoken := l.spokenText
	armed := l.speaking || (!l.endedAt.IsZero() && time.Since(l.endedAt) < echoGracePeriod)
	threshold := l.threshold
	l.mu.Unlock()

	if !armed || spoken == "" {
		return false
	}

	a := normalizeUtterance(utterance)
	b := normalizeUtterance(spoken)
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(b, a) {
		// A fragment of the assistant's sentence picked up mid-playback.
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= threshold
}

// normalizeUtterance lowercases and strips punctuation so the similarity
// score compares words, not transcription formatting.
func normalizeUtterance(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r >= 0x80:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
