package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oculo-ai/oculo/internal/config"
	"github.com/oculo-ai/oculo/internal/observe"
	"github.com/oculo-ai/oculo/internal/router"
	audiomock "github.com/oculo-ai/oculo/pkg/audio/mock"
	"github.com/oculo-ai/oculo/pkg/realtime"
	visionmock "github.com/oculo-ai/oculo/pkg/vision/mock"
)

func TestSessionConfigMapping(t *testing.T) {
	t.Parallel()
	rc := config.RealtimeConfig{
		Voice:              "marin",
		Instructions:       "be brief",
		Modalities:         []string{"text", "audio"},
		TranscriptionModel: "whisper-1",
		TurnDetection: config.TurnDetectionConfig{
			Mode:              "server_vad",
			Threshold:         0.6,
			PrefixPaddingMs:   200,
			SilenceDurationMs: 700,
		},
	}

	sc := sessionConfig(rc, "de")
	if sc.Voice != "marin" || sc.Instructions != "be brief" {
		t.Fatalf("voice/instructions = %q/%q", sc.Voice, sc.Instructions)
	}
	if sc.Language != "de" {
		t.Fatalf("language = %q, want de", sc.Language)
	}
	if sc.TurnDetection.Mode != realtime.TurnDetectionServerVAD || sc.TurnDetection.Threshold != 0.6 {
		t.Fatalf("turn detection = %+v", sc.TurnDetection)
	}
	if sc.TurnDetection.PrefixPaddingMs != 200 || sc.TurnDetection.SilenceDurationMs != 700 {
		t.Fatalf("vad padding = %+v", sc.TurnDetection)
	}
}

func TestRouterConfigMapping(t *testing.T) {
	t.Parallel()
	rc := config.RouterConfig{
		Language:           "de",
		ProcessingTimeout:  7 * time.Second,
		DuplicateThreshold: 0.85,
		VisionKeywords:     map[string][]string{"de": {`\bfoo\b`}},
		Apologies:          map[string]string{"de": "tut mir leid"},
	}

	c := routerConfig(rc)
	if c.Language != "de" || c.ProcessingTimeout != 7*time.Second || c.DuplicateThreshold != 0.85 {
		t.Fatalf("mapped config = %+v", c)
	}
	if len(c.VisionKeywords["de"]) != 1 || c.Apologies["de"] != "tut mir leid" {
		t.Fatalf("keyword/apology maps = %+v", c)
	}
}

func TestBuildVision_EmptyIsNil(t *testing.T) {
	t.Parallel()
	p, err := buildVision(config.VisionConfig{})
	if err != nil {
		t.Fatalf("buildVision: %v", err)
	}
	if p != nil {
		t.Fatalf("provider = %v, want nil without entries", p)
	}
}

func TestBuildVision_Chain(t *testing.T) {
	t.Parallel()
	p, err := buildVision(config.VisionConfig{
		Providers: []config.VisionProviderEntry{
			{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"},
			{Name: "gemini", APIKey: "g-test", Model: "gemini-2.0-flash"},
		},
		Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("buildVision: %v", err)
	}
	if p == nil || p.Name() != "openai+gemini" {
		t.Fatalf("chain = %v, want openai+gemini", p)
	}
}

func TestBuildVision_UnknownProvider(t *testing.T) {
	t.Parallel()
	_, err := buildVision(config.VisionConfig{
		Providers: []config.VisionProviderEntry{{Name: "clip", APIKey: "x", Model: "y"}},
	})
	if err == nil {
		t.Fatal("unknown provider accepted")
	}
}

// newTestApp assembles an App around mocks without dialling or initialising
// global telemetry.
func newTestApp(t *testing.T) *App {
	t.Helper()
	client := realtime.NewClient(realtime.Config{URL: "ws://127.0.0.1:1", APIKey: "test"})
	session := realtime.NewSession(client, realtime.SessionConfig{})
	t.Cleanup(session.Close)
	rt := router.New(session, &visionmock.Provider{}, &visionmock.FrameSource{}, &audiomock.Sink{}, nil, router.Config{})
	t.Cleanup(rt.Close)

	return &App{
		cfg:     &config.Config{},
		client:  client,
		session: session,
		router:  rt,
		metrics: observe.DefaultMetrics(),
	}
}

func TestBuildMux_Endpoints(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.buildMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", resp.StatusCode)
	}

	// Disconnected transport: not ready.
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("/readyz = %d, want 503 while disconnected", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", resp.StatusCode)
	}
}

func TestApplyConfig_RouterReload(t *testing.T) {
	a := newTestApp(t)

	old := &config.Config{Router: config.RouterConfig{Language: "en"}}
	new := &config.Config{Router: config.RouterConfig{Language: "de"}}
	a.cfg = old

	a.applyConfig(old, new)

	a.mu.Lock()
	got := a.cfg.Router.Language
	a.mu.Unlock()
	if got != "de" {
		t.Fatalf("config not swapped, language = %q", got)
	}
}

func TestNewRequiresSink(t *testing.T) {
	t.Parallel()
	if _, err := New(t.Context(), &config.Config{}, &Devices{}); err == nil {
		t.Fatal("New accepted nil sink")
	}
	if _, err := New(t.Context(), &config.Config{}, nil); err == nil {
		t.Fatal("New accepted nil devices")
	}
}
