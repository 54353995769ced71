// Package mock provides test doubles for the vision.Provider and
// vision.FrameSource interfaces.
//
// Use Provider in unit tests to verify the prompts and frames the router
// dispatches and to feed controlled answers without a live backend.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
//
// Example:
//
//	p := &mock.Provider{AnalyzeResult: "a red cup on the table"}
//	answer, err := p.Analyze(ctx, frame, prompt)
package mock

import (
	"context"
	"sync"

	"github.com/oculo-ai/oculo/pkg/vision"
)

// Compile-time assertions that the mocks satisfy the vision interfaces.
var _ vision.Provider = (*Provider)(nil)
var _ vision.FrameSource = (*FrameSource)(nil)

// AnalyzeCall records a single invocation of Analyze.
type AnalyzeCall struct {
	// Image is the frame passed to Analyze.
	Image []byte
	// Prompt is the question passed to Analyze.
	Prompt string
}

// Provider is a mock implementation of vision.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// AnalyzeResult is returned by Analyze.
	AnalyzeResult string

	// AnalyzeErr, if non-nil, is returned as the error from Analyze.
	AnalyzeErr error

	// AnalyzeDelay makes Analyze block until the delay elapses or ctx is
	// cancelled. Useful for exercising timeout paths.
	AnalyzeDelay func(ctx context.Context) error

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// --- Call records (read after test) ---

	// AnalyzeCalls records every invocation of Analyze in order.
	AnalyzeCalls []AnalyzeCall
}

// Analyze implements vision.Provider.
func (p *Provider) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	p.mu.Lock()
	img := make([]byte, len(image))
	copy(img, image)
	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Image: img, Prompt: prompt})
	delay := p.AnalyzeDelay
	result := p.AnalyzeResult
	err := p.AnalyzeErr
	p.mu.Unlock()

	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return "", derr
		}
	}
	if err != nil {
		return "", err
	}
	return result, nil
}

// Name implements vision.Provider.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded Analyze invocations.
func (p *Provider) Calls() []AnalyzeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AnalyzeCall(nil), p.AnalyzeCalls...)
}

// FrameSource is a mock implementation of vision.FrameSource.
type FrameSource struct {
	mu sync.Mutex

	// Frame is returned by CaptureFrame.
	Frame []byte

	// CaptureErr, if non-nil, is returned as the error from CaptureFrame.
	CaptureErr error

	// CaptureCalls counts CaptureFrame invocations.
	CaptureCalls int
}

// CaptureFrame implements vision.FrameSource.
func (f *FrameSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureCalls++
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	frame := make([]byte, len(f.Frame))
	copy(frame, f.Frame)
	return frame, nil
}

// Captures returns the number of CaptureFrame invocations so far.
func (f *FrameSource) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CaptureCalls
}
