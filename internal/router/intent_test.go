package router

import "testing"

func TestClassify_English(t *testing.T) {
	t.Parallel()
	c := NewClassifier("en")

	cases := []struct {
		text string
		want Intent
	}{
		{"what do you see", IntentVision},
		{"What can you see right now?", IntentVision},
		{"can you see the whiteboard", IntentVision},
		{"take a look at this", IntentVision},
		{"describe what you see", IntentVision},
		{"what's that on the table", IntentVision},
		{"read the label for me", IntentVision},
		{"how many chairs do you see", IntentVision},
		{"check your camera please", IntentVision},
		{"what's the weather tomorrow", IntentVoice},
		{"tell me a story about a camera crew", IntentVoice},
		{"I see what you mean", IntentVoice},
		{"", IntentVoice},
		{"   ", IntentVoice},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassify_German(t *testing.T) {
	t.Parallel()
	c := NewClassifier("de-DE")

	cases := []struct {
		text string
		want Intent
	}{
		{"was siehst du gerade", IntentVision},
		{"kannst du die Tafel sehen", IntentVision},
		{"schau mal hier", IntentVision},
		{"was ist das hier", IntentVision},
		{"wie spät ist es", IntentVoice},
		{"erzähl mir eine Geschichte", IntentVoice},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassify_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()
	c := NewClassifier("fr")

	if got := c.Classify("what do you see"); got != IntentVision {
		t.Fatalf("Classify = %v, want vision via english fallback", got)
	}
}

func TestSetLanguageSwitchesPatterns(t *testing.T) {
	t.Parallel()
	c := NewClassifier("en")

	if got := c.Classify("was siehst du"); got != IntentVoice {
		t.Fatalf("german phrase matched english set: %v", got)
	}
	c.SetLanguage("de")
	if got := c.Classify("was siehst du"); got != IntentVision {
		t.Fatalf("Classify after SetLanguage = %v, want vision", got)
	}
}

func TestSetPatterns(t *testing.T) {
	t.Parallel()
	c := NewClassifier("en")

	if err := c.SetPatterns("en", []string{`(?i)\bscan the room\b`}); err != nil {
		t.Fatalf("SetPatterns: %v", err)
	}
	if got := c.Classify("please scan the room"); got != IntentVision {
		t.Fatalf("custom pattern did not match: %v", got)
	}
	// Built-in patterns were replaced wholesale.
	if got := c.Classify("what do you see"); got != IntentVoice {
		t.Fatalf("old pattern still active: %v", got)
	}
}

func TestSetPatterns_InvalidRegexKeepsPrevious(t *testing.T) {
	t.Parallel()
	c := NewClassifier("en")

	err := c.SetPatterns("en", []string{`\bok\b`, `([unclosed`})
	if err == nil {
		t.Fatal("SetPatterns accepted invalid regexp")
	}
	if got := c.Classify("what do you see"); got != IntentVision {
		t.Fatalf("previous patterns lost after failed update: %v", got)
	}
}

func TestIntentString(t *testing.T) {
	t.Parallel()
	if IntentVoice.String() != "voice" || IntentVision.String() != "vision" {
		t.Fatal("unexpected intent names")
	}
	if Intent(42).String() != "unknown" {
		t.Fatal("out-of-range intent should be unknown")
	}
}
