package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that can
// be hot-reloaded without restarting the connection are tracked.
type ConfigDiff struct {
	// SessionChanged is true when any session-level field changed (voice,
	// instructions, modalities, transcription, turn detection). The session
	// engine re-sends its configuration when this is set.
	SessionChanged bool

	// RouterChanged is true when keyword patterns, apologies, the language,
	// or the router thresholds changed.
	RouterChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// Any reports whether the diff contains any applied change.
func (d ConfigDiff) Any() bool {
	return d.SessionChanged || d.RouterChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed. Only changes
// that are safe to apply mid-session are tracked; credential, endpoint, and
// reconnect-policy changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if sessionChanged(&old.Realtime, &new.Realtime) {
		d.SessionChanged = true
	}

	if routerChanged(&old.Router, &new.Router) {
		d.RouterChanged = true
	}

	return d
}

func sessionChanged(old, new *RealtimeConfig) bool {
	return old.Voice != new.Voice ||
		old.Instructions != new.Instructions ||
		!slices.Equal(old.Modalities, new.Modalities) ||
		old.TranscriptionModel != new.TranscriptionModel ||
		old.TurnDetection != new.TurnDetection
}

func routerChanged(old, new *RouterConfig) bool {
	if old.Language != new.Language ||
		old.ProcessingTimeout != new.ProcessingTimeout ||
		old.DuplicateThreshold != new.DuplicateThreshold {
		return true
	}
	if len(old.VisionKeywords) != len(new.VisionKeywords) {
		return true
	}
	for lang, patterns := range old.VisionKeywords {
		if !slices.Equal(patterns, new.VisionKeywords[lang]) {
			return true
		}
	}
	if len(old.Apologies) != len(new.Apologies) {
		return true
	}
	for lang, text := range old.Apologies {
		if new.Apologies[lang] != text {
			return true
		}
	}
	return false
}
