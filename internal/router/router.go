package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/oculo-ai/oculo/internal/observe"
	"github.com/oculo-ai/oculo/pkg/audio"
	"github.com/oculo-ai/oculo/pkg/realtime"
	"github.com/oculo-ai/oculo/pkg/vision"
)

// State is the router's pipeline state.
type State int

const (
	// StateIdle means no connection is established.
	StateIdle State = iota

	// StateConnecting covers initial connect and reconnection.
	StateConnecting

	// StateReady means the session is configured, before the first user turn.
	StateReady

	// StateListening means the microphone is live: the user is speaking, or
	// the next utterance is awaited after a delivered turn.
	StateListening

	// StateProcessing means a vision query is in flight.
	StateProcessing

	// StateResponding means assistant audio is playing.
	StateResponding

	// StateError is entered when the connection fails terminally.
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Conversation is the session surface the router consumes.
// *realtime.Session satisfies it.
type Conversation interface {
	SendText(text string) error
	RequestResponse() error
	CancelResponse() error
	OnAudioReady(fn func(responseID string, pcm []byte))
	OnTextComplete(fn func(role, text string))
	OnUserTranscript(fn func(text string))
	OnSpeechStarted(fn func())
	OnSpeechStopped(fn func())
	OnInterrupted(fn func())
	OnError(fn func(err error))
}

// Compile-time assertion that the session engine satisfies Conversation.
var _ Conversation = (*realtime.Session)(nil)

// defaultApologies holds the built-in per-language spoken apology.
var defaultApologies = map[string]string{
	"en": "Sorry, I wasn't able to look at that right now. Could you try again?",
	"de": "Entschuldigung, das konnte ich mir gerade nicht ansehen. Versuch es bitte noch einmal.",
}

// Config tunes the router.
type Config struct {
	// Language selects keyword patterns and apology text. Default: "en".
	Language string

	// ProcessingTimeout bounds a vision dispatch before the router gives up
	// and apologises. Default: 30s.
	ProcessingTimeout time.Duration

	// DuplicateThreshold is passed to the speaking lock. Default: 0.9.
	DuplicateThreshold float64

	// VisionKeywords overrides the built-in patterns per language.
	VisionKeywords map[string][]string

	// Apologies overrides the built-in apology text per language.
	Apologies map[string]string
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "en"
	}
	if c.ProcessingTimeout <= 0 {
		c.ProcessingTimeout = 30 * time.Second
	}
	return c
}

// Router wires the transcript stream to the vision path and guards the
// microphone while the assistant speaks. All exported methods are safe for
// concurrent use.
type Router struct {
	conv       Conversation
	provider   vision.Provider
	frames     vision.FrameSource
	sink       audio.Sink
	capture    audio.Capture
	classifier *Classifier
	lock       *SpeakingLock
	metrics    *observe.Metrics

	mu            sync.Mutex
	cfg           Config
	state         State
	observers     map[int]func(State)
	nextObserver  int
	assistantText string // last completed assistant text, for echo comparison
	playbackTimer *time.Timer
	responseStart time.Time
	playing       bool

	closed chan struct{}
	once   sync.Once
}

// New creates a Router and registers its handlers on conv. provider may be
// nil when no vision backend is configured; vision queries are then answered
// with the apology. capture may be nil when input muting is handled by the
// audio layer itself.
func New(conv Conversation, provider vision.Provider, frames vision.FrameSource, sink audio.Sink, capture audio.Capture, cfg Config) *Router {
	cfg = cfg.withDefaults()

	r := &Router{
		conv:       conv,
		provider:   provider,
		frames:     frames,
		sink:       sink,
		capture:    capture,
		classifier: NewClassifier(cfg.Language),
		lock:       NewSpeakingLock(cfg.DuplicateThreshold),
		metrics:    observe.DefaultMetrics(),
		cfg:        cfg,
		state:      StateIdle,
		observers:  make(map[int]func(State)),
		closed:     make(chan struct{}),
	}
	for lang, exprs := range cfg.VisionKeywords {
		if err := r.classifier.SetPatterns(lang, exprs); err != nil {
			slog.Warn("router: ignoring invalid keyword patterns", "language", lang, "err", err)
		}
	}

	conv.OnUserTranscript(r.handleUtterance)
	conv.OnAudioReady(r.handleAudioReady)
	conv.OnTextComplete(r.handleTextComplete)
	conv.OnSpeechStarted(r.handleSpeechStarted)
	conv.OnSpeechStopped(func() {})
	conv.OnInterrupted(r.handleInterrupted)
	conv.OnError(r.handleSessionError)

	return r
}

// Close stops the router's timers. It does not close the conversation.
func (r *Router) Close() {
	r.once.Do(func() {
		close(r.closed)
		r.mu.Lock()
		if r.playbackTimer != nil {
			r.playbackTimer.Stop()
		}
		r.mu.Unlock()
	})
}

// State returns the current pipeline state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnStateChange registers an observer invoked synchronously on every state
// transition. The returned function unregisters it.
func (r *Router) OnStateChange(fn func(State)) func() {
	r.mu.Lock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Reconfigure applies new language, patterns, apologies, and thresholds
// without dropping state. Used by config hot reload.
func (r *Router) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()

	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	r.classifier.SetLanguage(cfg.Language)
	for lang, exprs := range cfg.VisionKeywords {
		if err := r.classifier.SetPatterns(lang, exprs); err != nil {
			slog.Warn("router: ignoring invalid keyword patterns", "language", lang, "err", err)
		}
	}
	r.lock.SetThreshold(cfg.DuplicateThreshold)
}

// HandleConnectionState maps transport states onto the pipeline state. The
// application registers this with the connection manager.
func (r *Router) HandleConnectionState(s realtime.State) {
	switch s {
	case realtime.StateConnecting, realtime.StateReconnecting:
		r.setState(StateConnecting)
	case realtime.StateConnected:
		r.setState(StateReady)
	case realtime.StateDisconnected:
		r.setState(StateIdle)
	case realtime.StateFailed:
		r.setState(StateError)
	}
}

// setState updates the state and notifies observers without holding the lock
// during the callbacks.
func (r *Router) setState(s State) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	old := r.state
	r.state = s
	obs := make([]func(State), 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	r.mu.Unlock()

	slog.Debug("router: state transition", "from", old, "to", s)
	for _, fn := range obs {
		fn(s)
	}
}

// ─── Transcript handling ──────────────────────────────────────────────────────

// handleUtterance runs for every completed user transcript. Echo-suppressed
// utterances stop here; vision intents dispatch a query; voice intents need
// no action because the utterance is already with the speech model.
func (r *Router) handleUtterance(text string) {
	if r.lock.IsEcho(text) {
		slog.Info("router: suppressing playback echo", "text", text)
		r.metrics.EchoDrops.Add(context.Background(), 1)
		return
	}

	intent := r.classifier.Classify(text)
	slog.Debug("router: utterance classified", "intent", intent, "text", text)
	if intent != IntentVision {
		return
	}

	r.mu.Lock()
	if r.state == StateProcessing {
		r.mu.Unlock()
		slog.Warn("router: vision query already in flight, dropping", "text", text)
		return
	}
	timeout := r.cfg.ProcessingTimeout
	r.mu.Unlock()

	// The peer answers every committed utterance on the voice channel; for a
	// camera question that answer is image-blind. Cancel it so the vision
	// result is the only spoken output for this utterance.
	if err := r.conv.CancelResponse(); err != nil {
		slog.Warn("router: cancelling voice response failed", "err", err)
	}

	r.setState(StateProcessing)
	go r.dispatchVision(text, timeout)
}

// dispatchVision runs one vision query end to end: capture a frame, ask the
// provider, and hand the answer to the speech model to be spoken. Any
// failure, including the timeout, ends in a spoken apology. The voice
// connection is never touched.
func (r *Router) dispatchVision(utterance string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "router.vision_query")
	defer span.End()

	start := time.Now()
	answer, err := r.visionAnswer(ctx, utterance)
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerName := "none"
	if r.provider != nil {
		providerName = r.provider.Name()
	}
	r.metrics.RecordVisionQuery(ctx, providerName, status)
	r.metrics.VisionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", providerName), observe.Attr("status", status)))

	select {
	case <-r.closed:
		return
	default:
	}

	if err != nil {
		slog.Error("router: vision query failed", "err", err, "utterance", utterance)
		r.apologize()
		return
	}

	slog.Info("router: vision answer ready", "provider", providerName, "utterance", utterance)
	if err := r.speak(fmt.Sprintf("Camera analysis for %q: %s", utterance, answer)); err != nil {
		slog.Error("router: failed to deliver vision answer", "err", err)
		r.setState(StateListening)
	}
}

// visionAnswer captures the current frame and queries the provider.
func (r *Router) visionAnswer(ctx context.Context, utterance string) (string, error) {
	if r.provider == nil {
		return "", errors.New("router: no vision provider configured")
	}
	if r.frames == nil {
		return "", errors.New("router: no frame source configured")
	}

	frame, err := r.frames.CaptureFrame(ctx)
	if err != nil {
		return "", fmt.Errorf("router: capture frame: %w", err)
	}

	prompt := fmt.Sprintf(
		"You are the eyes of a voice assistant. The user asked: %q. "+
			"Answer the question based on the attached camera image, in one or two short spoken sentences.",
		utterance,
	)
	answer, err := r.provider.Analyze(ctx, frame, prompt)
	if err != nil {
		return "", fmt.Errorf("router: analyze: %w", err)
	}
	return answer, nil
}

// apologize sends the configured apology into the session to be spoken.
func (r *Router) apologize() {
	r.mu.Lock()
	lang := normalizeLanguage(r.cfg.Language)
	text, ok := r.cfg.Apologies[lang]
	r.mu.Unlock()
	if !ok || text == "" {
		text, ok = defaultApologies[lang]
		if !ok {
			text = defaultApologies["en"]
		}
	}

	if err := r.speak(fmt.Sprintf("(The camera check failed. Tell the user: %q)", text)); err != nil {
		slog.Error("router: failed to deliver apology", "err", err)
		r.setState(StateListening)
	}
}

// speak injects text as a conversation item and requests a spoken response.
// A voice turn the peer opened in the meantime is cancelled and the request
// retried: the injected text must be the turn that gets spoken.
func (r *Router) speak(text string) error {
	if err := r.conv.SendText(text); err != nil {
		return err
	}
	err := r.conv.RequestResponse()
	if errors.Is(err, realtime.ErrResponseActive) {
		if err = r.conv.CancelResponse(); err != nil {
			return err
		}
		err = r.conv.RequestResponse()
	}
	return err
}

// ─── Playback handling ────────────────────────────────────────────────────────

// handleAudioReady plays a completed response turn. The speaking lock
// arbitrates the output path: while it is engaged, or when the turn repeats
// what was just spoken, the turn is dropped so that at most one turn reaches
// the sink at a time. Otherwise the microphone is muted and the lock armed for
// the playback duration, estimated from the PCM length.
func (r *Router) handleAudioReady(responseID string, pcm []byte) {
	if r.lock.Speaking() {
		slog.Warn("router: output path busy, dropping response turn", "response_id", responseID)
		return
	}

	r.mu.Lock()
	text := r.assistantText
	r.mu.Unlock()
	if r.lock.DuplicateOutput(text) {
		slog.Info("router: dropping duplicate response turn", "response_id", responseID)
		return
	}

	r.mu.Lock()
	if r.playbackTimer != nil {
		r.playbackTimer.Stop()
	}
	r.responseStart = time.Now()
	wasPlaying := r.playing
	r.playing = true
	r.mu.Unlock()

	r.lock.BeginSpeaking(text)
	if r.capture != nil {
		r.capture.SetMuted(true)
	}
	if !wasPlaying {
		r.metrics.InFlightResponses.Add(context.Background(), 1)
	}
	r.setState(StateResponding)

	r.sink.Play(pcm)

	duration := audio.Frame{Data: pcm}.Duration()
	slog.Debug("router: playback started", "response_id", responseID, "duration", duration)

	timer := time.AfterFunc(duration, r.playbackFinished)
	r.mu.Lock()
	r.playbackTimer = timer
	r.mu.Unlock()
}

// playbackFinished unwinds the speaking lock once the estimated playback
// window has elapsed.
func (r *Router) playbackFinished() {
	select {
	case <-r.closed:
		return
	default:
	}

	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return
	}
	r.playing = false
	start := r.responseStart
	r.mu.Unlock()

	r.lock.EndSpeaking()
	if r.capture != nil {
		r.capture.SetMuted(false)
	}
	r.metrics.InFlightResponses.Add(context.Background(), -1)
	if !start.IsZero() {
		r.metrics.ResponseDuration.Record(context.Background(), time.Since(start).Seconds())
	}

	r.setState(StateListening)
}

// handleTextComplete records assistant text for echo comparison.
func (r *Router) handleTextComplete(role, text string) {
	if role != "assistant" {
		return
	}
	r.mu.Lock()
	r.assistantText = text
	r.mu.Unlock()
}

func (r *Router) handleSpeechStarted() {
	// Only leave quiescent states; speech during processing or playback is
	// handled by the interruption path.
	r.mu.Lock()
	quiescent := r.state == StateReady || r.state == StateListening
	r.mu.Unlock()
	if quiescent {
		r.setState(StateListening)
	}
}

// handleInterrupted stops playback immediately. The session engine cancels
// the peer-side response and purges queued audio after this returns.
func (r *Router) handleInterrupted() {
	r.mu.Lock()
	if r.playbackTimer != nil {
		r.playbackTimer.Stop()
		r.playbackTimer = nil
	}
	wasPlaying := r.playing
	r.playing = false
	r.mu.Unlock()

	r.sink.Stop()
	r.lock.EndSpeaking()
	if r.capture != nil {
		r.capture.SetMuted(false)
	}
	if wasPlaying {
		r.metrics.InFlightResponses.Add(context.Background(), -1)
	}
	r.metrics.Interruptions.Add(context.Background(), 1)
	slog.Info("router: playback interrupted by user")

	r.setState(StateListening)
}

// handleSessionError distinguishes terminal connection failure from
// recoverable protocol errors.
func (r *Router) handleSessionError(err error) {
	if errors.Is(err, realtime.ErrReconnectExhausted) {
		slog.Error("router: connection failed terminally", "err", err)
		r.setState(StateError)
		return
	}
	slog.Warn("router: session error", "err", err)
}
