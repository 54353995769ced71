package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oculo-ai/oculo/pkg/audio"
	"github.com/oculo-ai/oculo/pkg/vision"
)

// captureChunk is 20ms of mono PCM16 at the wire sample rate.
const captureChunk = audio.SampleRate / 50 * audio.SampleWidth

// stdinCapture implements [audio.Capture] over a raw PCM stream.
type stdinCapture struct {
	r io.Reader

	mu      sync.Mutex
	handler func(audio.Frame)
	muted   bool
}

var _ audio.Capture = (*stdinCapture)(nil)

func newStdinCapture(r io.Reader) *stdinCapture {
	return &stdinCapture{r: r}
}

func (c *stdinCapture) OnFrame(handler func(audio.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *stdinCapture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// run reads fixed-size chunks until EOF or ctx cancellation. Muted chunks are
// read but dropped, so the stream position stays live.
func (c *stdinCapture) run(ctx context.Context) {
	start := time.Now()
	buf := make([]byte, captureChunk)

	for ctx.Err() == nil {
		n, err := io.ReadFull(c.r, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Error("audio input read failed", "err", err)
			}
			return
		}

		c.mu.Lock()
		handler := c.handler
		muted := c.muted
		c.mu.Unlock()
		if muted || handler == nil {
			continue
		}

		frame := audio.Frame{Data: append([]byte(nil), buf[:n]...), Timestamp: time.Since(start)}
		handler(frame)
	}
}

// stdoutSink implements [audio.Sink] by writing PCM to a stream. Stop cannot
// recall bytes already handed to the pipe; downstream latency is bounded by
// the consumer's buffer.
type stdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

var _ audio.Sink = (*stdoutSink)(nil)

func newStdoutSink(w io.Writer) *stdoutSink {
	return &stdoutSink{w: w}
}

func (s *stdoutSink) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(pcm); err != nil {
		slog.Error("audio output write failed", "err", err)
	}
}

func (s *stdoutSink) Stop() {}

// fileFrameSource implements [vision.FrameSource] by reading a snapshot file
// on every capture. An external grabber keeps the file current.
type fileFrameSource struct {
	path string
}

var _ vision.FrameSource = (*fileFrameSource)(nil)

func (f *fileFrameSource) CaptureFrame(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("camera snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("camera snapshot %s is empty", f.path)
	}
	return data, nil
}
