package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	visionmock "github.com/oculo-ai/oculo/pkg/vision/mock"
)

func TestVisionFallback_PrimaryAnswer(t *testing.T) {
	primary := &visionmock.Provider{ProviderName: "openai", AnalyzeResult: "a red cup"}
	backup := &visionmock.Provider{ProviderName: "gemini", AnalyzeResult: "unused"}

	vf := NewVisionFallback(primary, FallbackConfig{})
	vf.AddFallback(backup)

	answer, err := vf.Analyze(context.Background(), []byte{1}, "what is this")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if answer != "a red cup" {
		t.Fatalf("answer = %q", answer)
	}
	if len(backup.Calls()) != 0 {
		t.Fatal("backup consulted although primary succeeded")
	}
}

func TestVisionFallback_FailsOver(t *testing.T) {
	primary := &visionmock.Provider{ProviderName: "openai", AnalyzeErr: errTest}
	backup := &visionmock.Provider{ProviderName: "gemini", AnalyzeResult: "a blue chair"}

	vf := NewVisionFallback(primary, FallbackConfig{})
	vf.AddFallback(backup)

	answer, err := vf.Analyze(context.Background(), []byte{1}, "what is this")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if answer != "a blue chair" {
		t.Fatalf("answer = %q", answer)
	}

	// The prompt must reach the fallback unchanged.
	calls := backup.Calls()
	if len(calls) != 1 || calls[0].Prompt != "what is this" {
		t.Fatalf("backup calls = %+v", calls)
	}
}

func TestVisionFallback_AllFail(t *testing.T) {
	primary := &visionmock.Provider{ProviderName: "openai", AnalyzeErr: errTest}
	backup := &visionmock.Provider{ProviderName: "gemini", AnalyzeErr: errTest}

	vf := NewVisionFallback(primary, FallbackConfig{})
	vf.AddFallback(backup)

	_, err := vf.Analyze(context.Background(), []byte{1}, "prompt")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestVisionFallback_TrippedPrimarySkipped(t *testing.T) {
	primary := &visionmock.Provider{ProviderName: "openai", AnalyzeErr: errTest}
	backup := &visionmock.Provider{ProviderName: "gemini", AnalyzeResult: "ok"}

	vf := NewVisionFallback(primary, FallbackConfig{
		CircuitBreaker: BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	vf.AddFallback(backup)

	for i := 0; i < 3; i++ {
		if _, err := vf.Analyze(context.Background(), []byte{1}, "prompt"); err != nil {
			t.Fatalf("Analyze %d: %v", i, err)
		}
	}

	// Breaker tripped after the first failure; the primary sees one call.
	if n := len(primary.Calls()); n != 1 {
		t.Fatalf("primary calls = %d, want 1", n)
	}
}

func TestVisionFallback_Name(t *testing.T) {
	vf := NewVisionFallback(&visionmock.Provider{ProviderName: "openai"}, FallbackConfig{})
	vf.AddFallback(&visionmock.Provider{ProviderName: "gemini"})
	if got := vf.Name(); got != "openai+gemini" {
		t.Fatalf("Name = %q", got)
	}
}
