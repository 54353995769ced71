package realtime

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oculo-ai/oculo/pkg/audio"
)

// ErrNotConnected is returned by session operations that require a live,
// configured connection.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrResponseActive is returned by [Session.RequestResponse] while a response
// is already in flight. The active turn must be cancelled before a new one
// can be requested.
var ErrResponseActive = errors.New("realtime: response already in progress")

// ServerError is a peer-reported application error carried inside an "error"
// event. It aborts the active response but keeps the connection alive.
type ServerError struct {
	Code    string
	Message string
	EventID string // client event id the error refers to, if any
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: server error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: server error: %s", e.Message)
}

// Turn detection modes.
const (
	// TurnDetectionServerVAD delegates end-of-utterance detection to the
	// peer's voice-activity detector.
	TurnDetectionServerVAD = "server_vad"

	// TurnDetectionManual disables peer-side detection; the caller drives
	// turns with CommitAudio + RequestResponse (push-to-talk).
	TurnDetectionManual = "manual"
)

// TurnDetection configures when the peer considers a user turn finished.
type TurnDetection struct {
	// Mode is TurnDetectionServerVAD or TurnDetectionManual.
	Mode string

	// Threshold is the speech-detection sensitivity (0.0 to 1.0).
	Threshold float64

	// PrefixPaddingMs is the leading silence window included before speech.
	PrefixPaddingMs int

	// SilenceDurationMs is the trailing silence that ends an utterance.
	SilenceDurationMs int
}

// SessionConfig is the peer-side session configuration. It is owned by the
// Session and re-sent in full on every change and after every reconnect.
type SessionConfig struct {
	// Modalities selects the response channels: ["text"] or ["text","audio"].
	Modalities []string

	// Voice is the synthesised-speech voice identifier.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// InputAudioFormat and OutputAudioFormat name the wire audio encoding.
	InputAudioFormat  string
	OutputAudioFormat string

	// TranscriptionModel enables peer-side transcription of user speech.
	TranscriptionModel string

	// Language hints the transcription language (BCP-47 or ISO 639-1).
	Language string

	// TurnDetection configures end-of-utterance detection.
	TurnDetection TurnDetection
}

func (c SessionConfig) withDefaults() SessionConfig {
	if len(c.Modalities) == 0 {
		c.Modalities = []string{"text", "audio"}
	}
	if c.InputAudioFormat == "" {
		c.InputAudioFormat = "pcm16"
	}
	if c.OutputAudioFormat == "" {
		c.OutputAudioFormat = "pcm16"
	}
	if c.TurnDetection.Mode == "" {
		c.TurnDetection.Mode = TurnDetectionServerVAD
	}
	if c.TurnDetection.Mode == TurnDetectionServerVAD {
		if c.TurnDetection.Threshold == 0 {
			c.TurnDetection.Threshold = 0.5
		}
		if c.TurnDetection.PrefixPaddingMs == 0 {
			c.TurnDetection.PrefixPaddingMs = 300
		}
		if c.TurnDetection.SilenceDurationMs == 0 {
			c.TurnDetection.SilenceDurationMs = 500
		}
	}
	return c
}

// wireParams converts the config to its session.update payload. Manual mode
// sends a null turn_detection, which disables the peer's VAD.
func (c SessionConfig) wireParams() sessionParams {
	params := sessionParams{
		Modalities:        c.Modalities,
		Voice:             c.Voice,
		Instructions:      c.Instructions,
		InputAudioFormat:  c.InputAudioFormat,
		OutputAudioFormat: c.OutputAudioFormat,
	}
	if c.TranscriptionModel != "" {
		params.Transcription = &transcriptionParams{
			Model:    c.TranscriptionModel,
			Language: c.Language,
		}
	}
	if c.TurnDetection.Mode == TurnDetectionServerVAD {
		params.TurnDetection = &turnDetectionParams{
			Type:              TurnDetectionServerVAD,
			Threshold:         c.TurnDetection.Threshold,
			PrefixPaddingMs:   c.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: c.TurnDetection.SilenceDurationMs,
		}
	}
	return params
}

// Transport is the connection-manager surface the session engine consumes.
// *Client satisfies it; tests supply an in-memory fake.
type Transport interface {
	Send(v any) bool
	Messages() <-chan []byte
	Errors() <-chan error
	OnStateChange(fn func(State)) func()
	State() State
}

// Compile-time assertion that Client satisfies Transport.
var _ Transport = (*Client)(nil)

// Session is the protocol engine on top of a Transport. It owns the session
// configuration and the single active [ResponseUnit]; nothing else mutates
// either. All exported methods are safe for concurrent use.
type Session struct {
	transport Transport

	mu         sync.Mutex
	cfg        SessionConfig
	active     *ResponseUnit
	requested  bool // response.create sent, response.created not yet seen
	configSent bool // session.update delivered on the current connection

	onAudioReady     func(responseID string, pcm []byte)
	onTextComplete   func(role, text string)
	onUserTranscript func(text string)
	onSpeechStarted  func()
	onSpeechStopped  func()
	onInterrupted    func()
	onError          func(err error)

	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

// NewSession creates a Session bound to t and starts its dispatch loop. If
// the transport is already connected the configuration is sent immediately;
// otherwise it is sent as soon as the transport reports Connected, and again
// after every reconnect.
func NewSession(t Transport, cfg SessionConfig) *Session {
	s := &Session{
		transport: t,
		cfg:       cfg.withDefaults(),
		done:      make(chan struct{}),
	}

	s.unsubscribe = t.OnStateChange(s.handleStateChange)
	if t.State() == StateConnected {
		s.handleStateChange(StateConnected)
	}

	go s.run()
	return s
}

// ─── Callback registration ────────────────────────────────────────────────────
// Only one handler per event kind is active at a time; passing nil clears it.

// OnAudioReady registers the handler that receives fully-assembled response
// audio. It fires once per content index, only after the corresponding
// audio-done event, never for audio that was interrupted first.
func (s *Session) OnAudioReady(fn func(responseID string, pcm []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAudioReady = fn
}

// OnTextComplete registers the handler for completed conversation items.
// role is "assistant" or "user".
func (s *Session) OnTextComplete(fn func(role, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTextComplete = fn
}

// OnUserTranscript registers the handler for completed peer-side
// transcriptions of user speech.
func (s *Session) OnUserTranscript(fn func(text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUserTranscript = fn
}

// OnSpeechStarted registers the handler for the peer's speech-started signal.
func (s *Session) OnSpeechStarted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeechStarted = fn
}

// OnSpeechStopped registers the handler for the peer's speech-stopped signal.
func (s *Session) OnSpeechStopped(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeechStopped = fn
}

// OnInterrupted registers the handler for peer-detected barge-in. The handler
// must stop playback immediately; the session then cancels the response and
// purges queued audio on its own.
func (s *Session) OnInterrupted(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInterrupted = fn
}

// OnError registers the handler for transport and server errors.
func (s *Session) OnError(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// ─── Operations ───────────────────────────────────────────────────────────────

// Configure replaces the session configuration. The full configuration is
// sent to the peer immediately when connected, and re-sent automatically
// after every reconnect.
func (s *Session) Configure(cfg SessionConfig) error {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	wire := s.cfg.wireParams()
	connected := s.transport.State() == StateConnected
	s.mu.Unlock()

	if !connected {
		return nil // applied on next connect
	}
	if !s.transport.Send(sessionUpdateEvent{Type: EventSessionUpdate, EventID: newEventID(), Session: wire}) {
		return ErrNotConnected
	}
	return nil
}

// Config returns a copy of the current session configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SendAudio base64-frames one captured audio chunk and appends it to the
// peer's input buffer. It fails fast when disconnected or when the session
// configuration has not yet been delivered on this connection.
func (s *Session) SendAudio(frame audio.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	ready := s.configSent
	s.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}

	msg := appendAudioEvent{
		Type:    EventAudioAppend,
		EventID: newEventID(),
		Audio:   base64.StdEncoding.EncodeToString(frame.Data),
	}
	if !s.transport.Send(msg) {
		return ErrNotConnected
	}
	return nil
}

// CommitAudio finalises the peer's input buffer into a user turn. Only needed
// in manual turn-detection mode; with server VAD the peer commits on its own.
func (s *Session) CommitAudio() error {
	if !s.transport.Send(bareEvent{Type: EventAudioCommit, EventID: newEventID()}) {
		return ErrNotConnected
	}
	return nil
}

// ClearAudio discards the peer's uncommitted input buffer.
func (s *Session) ClearAudio() error {
	if !s.transport.Send(bareEvent{Type: EventAudioClear, EventID: newEventID()}) {
		return ErrNotConnected
	}
	return nil
}

// SendText creates a user conversation item with the given text. It does not
// trigger generation; call RequestResponse for that.
func (s *Session) SendText(text string) error {
	msg := createItemEvent{
		Type:    EventItemCreate,
		EventID: newEventID(),
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{{Type: "input_text", Text: text}},
		},
	}
	if !s.transport.Send(msg) {
		return ErrNotConnected
	}
	return nil
}

// RequestResponse asks the peer to generate a model turn. While a response is
// already in flight it returns [ErrResponseActive] without putting a second
// response.create on the wire; callers that must replace the active turn
// cancel it first and retry. Results arrive asynchronously via the registered
// handlers.
func (s *Session) RequestResponse() error {
	s.mu.Lock()
	if s.active != nil || s.requested {
		id := ""
		if s.active != nil {
			id = s.active.ID
		}
		s.mu.Unlock()
		slog.Warn("realtime: response already in progress, rejecting request", "response_id", id)
		return ErrResponseActive
	}
	s.requested = true
	s.mu.Unlock()

	if !s.transport.Send(bareEvent{Type: EventResponseCreate, EventID: newEventID()}) {
		s.mu.Lock()
		s.requested = false
		s.mu.Unlock()
		return ErrNotConnected
	}
	return nil
}

// CancelResponse aborts and discards the in-flight response, if any. The
// slot is freed immediately — a new response can be requested without waiting
// for the peer's confirmation; late events for the cancelled id are dropped
// as stale. It is best-effort (the peer may have already finished) and
// idempotent: with no active response it does nothing and returns nil.
func (s *Session) CancelResponse() error {
	s.mu.Lock()
	discarded := s.active
	hasWork := discarded != nil || s.requested
	s.active = nil
	s.requested = false
	s.mu.Unlock()

	if !hasWork {
		return nil
	}
	if discarded != nil {
		slog.Debug("realtime: cancelling response", "response_id", discarded.ID)
	}
	if !s.transport.Send(bareEvent{Type: EventResponseCancel, EventID: newEventID()}) {
		return ErrNotConnected
	}
	return nil
}

// ActiveResponse returns the in-flight [ResponseUnit], or nil.
func (s *Session) ActiveResponse() *ResponseUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close stops the dispatch loop and detaches from the transport. It does not
// close the transport itself. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		close(s.done)
	})
}

// ─── Connection-state handling ────────────────────────────────────────────────

// handleStateChange re-sends the session configuration the moment the
// transport connects, before any audio can be forwarded, and discards the
// in-flight response on any loss of connection — a half-streamed turn cannot
// be resumed.
func (s *Session) handleStateChange(state State) {
	switch state {
	case StateConnected:
		s.mu.Lock()
		wire := s.cfg.wireParams()
		s.mu.Unlock()

		ok := s.transport.Send(sessionUpdateEvent{Type: EventSessionUpdate, EventID: newEventID(), Session: wire})

		s.mu.Lock()
		s.configSent = ok
		s.mu.Unlock()
		if !ok {
			slog.Warn("realtime: failed to deliver session configuration")
		}

	default:
		s.mu.Lock()
		discarded := s.active
		s.active = nil
		s.requested = false
		s.configSent = false
		s.mu.Unlock()
		if discarded != nil {
			slog.Info("realtime: discarding in-flight response on disconnect", "response_id", discarded.ID)
		}
	}
}

// ─── Dispatch loop ────────────────────────────────────────────────────────────

// run processes inbound frames strictly in arrival order. A malformed event
// is logged and dropped; it never terminates the loop.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return

		case data, ok := <-s.transport.Messages():
			if !ok {
				return
			}
			evt, err := ParseServerEvent(data)
			if err != nil {
				slog.Warn("realtime: dropping malformed event", "err", err)
				continue
			}
			s.dispatch(evt)

		case err, ok := <-s.transport.Errors():
			if !ok {
				return
			}
			s.emitError(err)
		}
	}
}

// dispatch is the single switch over the closed event variant.
func (s *Session) dispatch(evt *ServerEvent) {
	switch evt.Type {
	case EventResponseCreated:
		s.handleResponseCreated(evt)

	case EventResponseAudioDelta:
		s.handleAudioDelta(evt)

	case EventResponseAudioDone:
		s.handleAudioDone(evt)

	case EventResponseTextDelta:
		// Dropped: deltas can split multi-byte sequences across frames. The
		// complete text arrives with conversation.item.completed.

	case EventItemCompleted:
		s.handleItemCompleted(evt)

	case EventTranscriptionCompleted:
		if evt.Transcript == "" {
			return
		}
		if fn := s.callback(&s.onUserTranscript); fn != nil {
			fn(evt.Transcript)
		}

	case EventInterrupted:
		s.handleInterrupted()

	case EventSpeechStarted:
		if fn := s.callbackNullary(&s.onSpeechStarted); fn != nil {
			fn()
		}

	case EventSpeechStopped:
		if fn := s.callbackNullary(&s.onSpeechStopped); fn != nil {
			fn()
		}

	case EventResponseDone:
		s.handleResponseDone(evt)

	case EventError:
		s.handleErrorEvent(evt)

	case EventSessionCreated, EventSessionUpdated, EventConversationUpdated:
		slog.Debug("realtime: session event", "type", evt.Type)

	default:
		slog.Debug("realtime: ignoring unknown event", "type", evt.Type)
	}
}

func (s *Session) handleResponseCreated(evt *ServerEvent) {
	id := evt.ResponseID
	if id == "" && evt.Response != nil {
		id = evt.Response.ID
	}

	s.mu.Lock()
	if s.active != nil {
		// The peer can start a VAD-triggered response on its own; the old
		// unit can no longer complete and is replaced.
		slog.Warn("realtime: new response while one is active, replacing",
			"old", s.active.ID, "new", id)
	}
	s.active = NewResponseUnit(id)
	s.requested = false
	s.mu.Unlock()
}

func (s *Session) handleAudioDelta(evt *ServerEvent) {
	if evt.Delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
	if err != nil || len(pcm) == 0 {
		slog.Warn("realtime: dropping undecodable audio delta", "response_id", evt.ResponseID)
		return
	}

	s.mu.Lock()
	unit := s.active
	s.mu.Unlock()
	if unit == nil || (evt.ResponseID != "" && unit.ID != evt.ResponseID) {
		return // delta for a discarded or stale response
	}
	unit.AddAudioDelta(evt.ContentIndex, pcm)
}

func (s *Session) handleAudioDone(evt *ServerEvent) {
	s.mu.Lock()
	unit := s.active
	s.mu.Unlock()
	if unit == nil || (evt.ResponseID != "" && unit.ID != evt.ResponseID) {
		return
	}

	pcm := unit.FlushAudio(evt.ContentIndex)
	if len(pcm) == 0 {
		return
	}
	if fn := s.audioReadyCallback(); fn != nil {
		fn(unit.ID, pcm)
	}
}

func (s *Session) handleItemCompleted(evt *ServerEvent) {
	text := evt.CompletedText()
	if text == "" {
		return
	}
	role := "assistant"
	if evt.Item != nil && evt.Item.Role != "" {
		role = evt.Item.Role
	}

	if role == "assistant" {
		s.mu.Lock()
		unit := s.active
		s.mu.Unlock()
		if unit != nil {
			unit.SetText(text)
		}
	}

	if fn := s.textCompleteCallback(); fn != nil {
		fn(role, text)
	}
}

// handleInterrupted runs the barge-in path: stop playback first, then cancel
// the peer-side generation, then purge queued audio. The connection is left
// untouched.
func (s *Session) handleInterrupted() {
	if fn := s.callbackNullary(&s.onInterrupted); fn != nil {
		fn()
	}

	s.mu.Lock()
	unit := s.active
	s.mu.Unlock()

	if err := s.CancelResponse(); err != nil {
		slog.Warn("realtime: cancel after interruption failed", "err", err)
	}
	if unit != nil {
		unit.PurgeAudio()
	}
}

func (s *Session) handleResponseDone(evt *ServerEvent) {
	s.mu.Lock()
	unit := s.active
	if unit != nil {
		unit.MarkDone()
	}
	s.active = nil
	s.requested = false
	s.mu.Unlock()
}

func (s *Session) handleErrorEvent(evt *ServerEvent) {
	serr := &ServerError{Message: "unknown error"}
	if evt.Error != nil {
		serr.Code = evt.Error.Code
		serr.Message = evt.Error.Message
		serr.EventID = evt.Error.EventID
	}

	s.mu.Lock()
	aborted := s.active
	s.active = nil
	s.requested = false
	s.mu.Unlock()
	if aborted != nil {
		slog.Warn("realtime: server error aborts active response",
			"response_id", aborted.ID, "code", serr.Code)
	}

	s.emitError(serr)
}

// ─── Callback helpers ─────────────────────────────────────────────────────────

func (s *Session) emitError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	} else {
		slog.Warn("realtime: unhandled session error", "err", err)
	}
}

func (s *Session) audioReadyCallback() func(string, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onAudioReady
}

func (s *Session) textCompleteCallback() func(string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onTextComplete
}

func (s *Session) callback(slot *func(string)) func(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *slot
}

func (s *Session) callbackNullary(slot *func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *slot
}
