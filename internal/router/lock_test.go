package router

import "testing"

func TestSpeakingLock_EchoWhileSpeaking(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.9)

	l.BeginSpeaking("The capital of France is Paris.")
	if !l.Speaking() {
		t.Fatal("Speaking() = false after BeginSpeaking")
	}

	cases := []struct {
		utterance string
		echo      bool
	}{
		{"The capital of France is Paris", true},
		{"the capital of france is paris.", true},
		// A fragment heard mid-playback.
		{"capital of France", true},
		// Genuinely new user speech.
		{"what about Germany", false},
		{"stop talking", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := l.IsEcho(tc.utterance); got != tc.echo {
			t.Errorf("IsEcho(%q) = %v, want %v", tc.utterance, got, tc.echo)
		}
	}
}

func TestSpeakingLock_DisarmedWhenSilent(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0)

	// Never spoke: nothing can be an echo.
	if l.IsEcho("the capital of france is paris") {
		t.Fatal("IsEcho true before any playback")
	}
}

func TestSpeakingLock_GracePeriod(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.9)

	l.BeginSpeaking("It is three o'clock in the afternoon.")
	l.EndSpeaking()
	if l.Speaking() {
		t.Fatal("Speaking() = true after EndSpeaking")
	}

	// Just ended: the grace period keeps the comparison armed for late
	// transcripts of the playback tail.
	if !l.IsEcho("it is three o'clock in the afternoon") {
		t.Fatal("IsEcho false inside grace period")
	}
	if l.IsEcho("set a timer for ten minutes") {
		t.Fatal("unrelated utterance suppressed inside grace period")
	}
}

func TestSpeakingLock_EndSpeakingIdempotent(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.9)

	l.EndSpeaking() // never started; must not arm the grace period
	if l.IsEcho("anything at all") {
		t.Fatal("EndSpeaking without BeginSpeaking armed the lock")
	}
}

func TestSpeakingLock_KeepsLastTextAcrossEmptyBegin(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.9)

	l.BeginSpeaking("Dinner is ready in five minutes.")
	l.BeginSpeaking("") // audio-only turn, no transcript yet
	if !l.IsEcho("dinner is ready in five minutes") {
		t.Fatal("spoken text lost on empty BeginSpeaking")
	}
}

func TestSpeakingLock_SetThreshold(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.98)

	l.BeginSpeaking("the weather is sunny today")
	// Garbled transcription: similar but not contained in the spoken text,
	// so only the fuzzy comparison applies.
	utterance := "the weather is rainy today"
	if l.IsEcho(utterance) {
		t.Fatal("near-duplicate matched at threshold 0.98")
	}
	l.SetThreshold(0.85)
	if !l.IsEcho(utterance) {
		t.Fatal("near-duplicate not matched at threshold 0.85")
	}
}

func TestSpeakingLock_ContainmentIgnoresThreshold(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.99)

	l.BeginSpeaking("turn on the kitchen lights")
	// A fragment of the spoken sentence is an echo no matter how strict the
	// fuzzy threshold is.
	if !l.IsEcho("turn on the kitchen light") {
		t.Fatal("contained fragment not suppressed")
	}
}

func TestSpeakingLock_DuplicateOutput(t *testing.T) {
	t.Parallel()
	l := NewSpeakingLock(0.9)

	if l.DuplicateOutput("the door is closed") {
		t.Fatal("DuplicateOutput true before any playback")
	}

	l.BeginSpeaking("The door is closed.")
	if !l.DuplicateOutput("the door is closed") {
		t.Fatal("exact repeat not detected while speaking")
	}
	if l.DuplicateOutput("the window is open") {
		t.Fatal("different text flagged as duplicate")
	}

	l.EndSpeaking()
	// Still armed inside the grace period.
	if !l.DuplicateOutput("The door is closed.") {
		t.Fatal("exact repeat not detected inside grace period")
	}
}

func TestNormalizeUtterance(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"  What's   that?  ", "whats that"},
		{"Straße überqueren.", "straße überqueren"},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := normalizeUtterance(tc.in); got != tc.want {
			t.Errorf("normalizeUtterance(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
