package resilience

import (
	"context"
	"strings"

	"github.com/oculo-ai/oculo/pkg/vision"
)

// VisionFallback implements [vision.Provider] with automatic failover across
// multiple image-analysis backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried within the caller's deadline.
type VisionFallback struct {
	group *FallbackGroup[vision.Provider]
	names []string
}

// Compile-time interface assertion.
var _ vision.Provider = (*VisionFallback)(nil)

// NewVisionFallback creates a [VisionFallback] with primary as the preferred
// backend.
func NewVisionFallback(primary vision.Provider, cfg FallbackConfig) *VisionFallback {
	return &VisionFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
		names: []string{primary.Name()},
	}
}

// AddFallback registers an additional vision provider as a fallback.
func (f *VisionFallback) AddFallback(provider vision.Provider) {
	f.group.AddFallback(provider.Name(), provider)
	f.names = append(f.names, provider.Name())
}

// Analyze sends the query to the first healthy provider and returns its
// answer.
func (f *VisionFallback) Analyze(ctx context.Context, image []byte, prompt string) (string, error) {
	return ExecuteWithResult(f.group, func(p vision.Provider) (string, error) {
		return p.Analyze(ctx, image, prompt)
	})
}

// Name lists the chain members, primary first.
func (f *VisionFallback) Name() string {
	return strings.Join(f.names, "+")
}
