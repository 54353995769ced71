// Package vision defines the Provider interface for one-shot image analysis
// backends.
//
// A vision provider answers a single question about a single image over a
// stateless HTTP API. It carries no conversation history: every call embeds
// everything the model needs, which keeps the voice path and the vision path
// fully independent. Implementations must be safe for concurrent use.
package vision

import "context"

// Provider is the abstraction over any image-analysis backend.
type Provider interface {
	// Analyze answers prompt about the given JPEG-encoded image and returns
	// the model's text reply. The call is stateless; ctx carries the caller's
	// deadline.
	Analyze(ctx context.Context, image []byte, prompt string) (string, error)

	// Name identifies the backend for logs and metrics.
	Name() string
}

// FrameSource supplies the current camera frame on demand. Implementations
// return the most recent frame as JPEG bytes; they never block waiting for a
// new frame beyond ctx.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}
