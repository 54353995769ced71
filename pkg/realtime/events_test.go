package realtime

import (
	"strings"
	"testing"
)

func TestParseServerEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		wantErr string
		check   func(t *testing.T, evt *ServerEvent)
	}{
		{
			name: "audio delta",
			data: `{"type":"response.audio.delta","response_id":"resp_1","content_index":0,"delta":"AAAA"}`,
			check: func(t *testing.T, evt *ServerEvent) {
				if evt.Type != EventResponseAudioDelta {
					t.Errorf("Type = %q", evt.Type)
				}
				if evt.ResponseID != "resp_1" || evt.Delta != "AAAA" {
					t.Errorf("fields = %q %q", evt.ResponseID, evt.Delta)
				}
			},
		},
		{
			name: "error event",
			data: `{"type":"error","error":{"type":"invalid_request_error","code":"bad_audio","message":"nope"}}`,
			check: func(t *testing.T, evt *ServerEvent) {
				if evt.Error == nil || evt.Error.Code != "bad_audio" {
					t.Errorf("Error = %+v", evt.Error)
				}
			},
		},
		{
			name:    "missing type",
			data:    `{"response_id":"resp_1"}`,
			wantErr: "missing type",
		},
		{
			name:    "not json",
			data:    `{{{`,
			wantErr: "decode event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, err := ParseServerEvent([]byte(tt.data))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServerEvent: %v", err)
			}
			tt.check(t, evt)
		})
	}
}

func TestCompletedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		evt  ServerEvent
		want string
	}{
		{
			name: "assistant text part",
			evt: ServerEvent{Item: &itemInfo{Role: "assistant", Content: []itemPart{
				{Type: "text", Text: "hello"},
			}}},
			want: "hello",
		},
		{
			name: "user transcript part",
			evt: ServerEvent{Item: &itemInfo{Role: "user", Content: []itemPart{
				{Type: "input_audio", Transcript: "what is this"},
			}}},
			want: "what is this",
		},
		{
			name: "no item",
			evt:  ServerEvent{},
			want: "",
		},
		{
			name: "empty parts",
			evt:  ServerEvent{Item: &itemInfo{Content: []itemPart{{Type: "audio"}}}},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.evt.CompletedText(); got != tt.want {
				t.Fatalf("CompletedText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewEventIDUnique(t *testing.T) {
	t.Parallel()

	a, b := newEventID(), newEventID()
	if a == b {
		t.Fatalf("consecutive event ids collide: %q", a)
	}
	if !strings.HasPrefix(a, "evt_") {
		t.Fatalf("event id %q missing prefix", a)
	}
}
