package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("empty api key accepted")
	}
	if _, err := New("key", ""); err == nil {
		t.Fatal("empty model accepted")
	}
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "a red cup"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	p, err := New("test-key", "gpt-4o-mini", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	answer, err := p.Analyze(context.Background(), []byte{0xFF, 0xD8}, "what is this")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if answer != "a red cup" {
		t.Fatalf("answer = %q", answer)
	}

	// The request must embed both the question and the image data URL.
	raw, _ := json.Marshal(gotBody)
	if !strings.Contains(string(raw), "what is this") {
		t.Error("prompt missing from request")
	}
	if !strings.Contains(string(raw), "data:image/jpeg;base64,") {
		t.Error("image data URL missing from request")
	}
}

func TestAnalyzeRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	p, err := New("test-key", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Analyze(context.Background(), nil, "prompt"); err == nil {
		t.Fatal("empty image accepted")
	}
}
