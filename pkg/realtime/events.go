package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client event types (outbound).
const (
	EventSessionUpdate  = "session.update"
	EventAudioAppend    = "input_audio_buffer.append"
	EventAudioCommit    = "input_audio_buffer.commit"
	EventAudioClear     = "input_audio_buffer.clear"
	EventItemCreate     = "conversation.item.create"
	EventResponseCreate = "response.create"
	EventResponseCancel = "response.cancel"
)

// Server event types (inbound). The protocol is a closed set: unknown types
// are logged and dropped by the dispatch loop, never treated as fatal.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventConversationUpdated    = "conversation.updated"
	EventItemCompleted          = "conversation.item.completed"
	EventInterrupted            = "conversation.interrupted"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseCreated        = "response.created"
	EventResponseAudioDelta     = "response.audio.delta"
	EventResponseAudioDone      = "response.audio.done"
	EventResponseTextDelta      = "response.text.delta"
	EventResponseDone           = "response.done"
	EventError                  = "error"
)

// ─── Outbound messages ────────────────────────────────────────────────────────

// sessionUpdateEvent carries the full session configuration. It is re-sent on
// every configuration change and after every reconnect; the peer keeps no
// client state across a dropped connection.
type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string             `json:"modalities"`
	Voice             string               `json:"voice,omitempty"`
	Instructions      string               `json:"instructions,omitempty"`
	InputAudioFormat  string               `json:"input_audio_format"`
	OutputAudioFormat string               `json:"output_audio_format"`
	Transcription     *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection     *turnDetectionParams `json:"turn_detection"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// appendAudioEvent appends one base64-encoded PCM16 frame to the peer's input
// buffer.
type appendAudioEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Audio   string `json:"audio"`
}

// bareEvent covers outbound messages that carry no payload beyond their type:
// commit, clear, response.create, response.cancel.
type bareEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type createItemEvent struct {
	Type    string           `json:"type"`
	EventID string           `json:"event_id"`
	Item    conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// newEventID returns a client-generated id for an outbound event. The peer
// echoes it in error events, which makes protocol failures attributable.
func newEventID() string {
	return "evt_" + uuid.NewString()
}

// marshalJSON wraps json.Marshal with the package error prefix.
func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal: %w", err)
	}
	return data, nil
}

// ─── Inbound events ───────────────────────────────────────────────────────────

// ServerErrorDetail is the nested error object inside an "error" event.
type ServerErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message"`
}

// responseInfo is the nested response object in response.created /
// response.done events.
type responseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// itemInfo is the nested item object in conversation.item.completed events.
type itemInfo struct {
	ID      string     `json:"id"`
	Role    string     `json:"role,omitempty"`
	Content []itemPart `json:"content,omitempty"`
}

type itemPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ServerEvent is the decoded form of one inbound protocol message. It is a
// flat union: which fields are populated depends on Type. Dispatch happens in
// a single switch in the session engine; new event kinds are added here, not
// as string comparisons scattered across the codebase.
type ServerEvent struct {
	Type         string             `json:"type"`
	EventID      string             `json:"event_id,omitempty"`
	ResponseID   string             `json:"response_id,omitempty"`
	ItemID       string             `json:"item_id,omitempty"`
	ContentIndex int                `json:"content_index,omitempty"`
	Delta        string             `json:"delta,omitempty"`
	Transcript   string             `json:"transcript,omitempty"`
	Response     *responseInfo      `json:"response,omitempty"`
	Item         *itemInfo          `json:"item,omitempty"`
	Error        *ServerErrorDetail `json:"error,omitempty"`
}

// ParseServerEvent decodes one wire frame. A frame without a type
// discriminator is malformed.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var evt ServerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("realtime: decode event: %w", err)
	}
	if evt.Type == "" {
		return nil, fmt.Errorf("realtime: event missing type discriminator")
	}
	return &evt, nil
}

// CompletedText extracts the message text from a conversation.item.completed
// event. Assistant items carry "text" parts; user items carry the transcript
// of what was recognised.
func (e *ServerEvent) CompletedText() string {
	if e.Item == nil {
		return ""
	}
	for _, part := range e.Item.Content {
		if part.Text != "" {
			return part.Text
		}
		if part.Transcript != "" {
			return part.Transcript
		}
	}
	return ""
}
