// Package audio defines the frame model and the collaborator interfaces for
// audio capture and playback.
//
// Oculo does not own any audio devices. Capture and playback are external
// collaborators (platform drivers, test doubles); this package fixes the
// contract between them and the rest of the system: frames are mono 16-bit
// little-endian PCM at a fixed sample rate, transported as byte slices whose
// length is always a multiple of the sample width.
package audio

import (
	"fmt"
	"time"
)

// Wire audio format. The remote peer negotiates nothing: these values are
// declared in the session configuration and every frame must match them.
const (
	// SampleRate is the PCM sample rate in Hz.
	SampleRate = 24000

	// Channels is the channel count. The wire format is mono.
	Channels = 1

	// SampleWidth is the byte width of a single sample (16-bit signed).
	SampleWidth = 2
)

// Frame is a single chunk of captured or synthesised audio. Frames are
// transient: produced by capture, consumed by the wire encoder or the
// playback sink, never persisted.
type Frame struct {
	// Data is raw PCM16LE audio. len(Data) must be a multiple of SampleWidth.
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Validate reports whether the frame is well-formed for the wire format.
func (f Frame) Validate() error {
	if len(f.Data) == 0 {
		return fmt.Errorf("audio: empty frame")
	}
	if len(f.Data)%SampleWidth != 0 {
		return fmt.Errorf("audio: frame length %d is not a multiple of the sample width", len(f.Data))
	}
	return nil
}

// Duration returns the play-out duration of the frame at the wire sample rate.
func (f Frame) Duration() time.Duration {
	samples := len(f.Data) / SampleWidth
	return time.Duration(samples) * time.Second / time.Duration(SampleRate*Channels)
}

// Sink is the playback collaborator. Implementations are external (a device
// driver in production, a recorder in tests).
//
// Play must not block for the duration of play-out; it enqueues audio and
// returns. Stop discards anything queued and silences the device immediately.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play enqueues PCM16LE audio for play-out.
	Play(pcm []byte)

	// Stop halts play-out immediately and drops any queued audio.
	Stop()
}

// Capture is the microphone collaborator. The capture device pushes frames
// into the handler registered with OnFrame; SetMuted gates the push without
// stopping the device, so that the system's own output is not re-captured as
// user speech while a response is playing.
type Capture interface {
	// OnFrame registers the handler invoked for every captured frame.
	// Only one handler is active at a time; passing nil clears it.
	OnFrame(handler func(Frame))

	// SetMuted enables or disables frame delivery. While muted, captured
	// frames are dropped at the source.
	SetMuted(muted bool)
}
