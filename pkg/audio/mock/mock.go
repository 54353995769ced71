// Package mock provides test doubles for the audio collaborator interfaces.
//
// Sink records every Play and Stop call so tests can assert exactly what
// reached the playback device and in which order. Capture lets tests push
// scripted frames through the registered handler and honours the mute flag
// the same way a real device driver would.
package mock

import (
	"sync"

	"github.com/oculo-ai/oculo/pkg/audio"
)

// Compile-time assertions that the mocks satisfy the audio interfaces.
var _ audio.Sink = (*Sink)(nil)
var _ audio.Capture = (*Capture)(nil)

// Sink is a recording implementation of audio.Sink.
type Sink struct {
	mu sync.Mutex

	// Played holds a copy of every buffer passed to Play, in order.
	Played [][]byte

	// StopCalls is the number of times Stop was called.
	StopCalls int
}

// Play records a copy of pcm.
func (s *Sink) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.Played = append(s.Played, buf)
}

// Stop records the call.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
}

// PlayedCount returns the number of Play calls so far.
func (s *Sink) PlayedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// Stopped returns the number of Stop calls so far.
func (s *Sink) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}

// Capture is a scriptable implementation of audio.Capture.
type Capture struct {
	mu      sync.Mutex
	handler func(audio.Frame)
	muted   bool
}

// OnFrame stores the handler.
func (c *Capture) OnFrame(handler func(audio.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// SetMuted sets the mute flag.
func (c *Capture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Muted reports the current mute flag.
func (c *Capture) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Push delivers a frame through the registered handler unless muted or no
// handler is set. Returns true if the frame was delivered.
func (c *Capture) Push(f audio.Frame) bool {
	c.mu.Lock()
	handler := c.handler
	muted := c.muted
	c.mu.Unlock()

	if muted || handler == nil {
		return false
	}
	handler(f)
	return true
}
