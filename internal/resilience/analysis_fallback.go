package resilience

import (
	"context"

	"github.com/MrWong99/talkwire/pkg/provider/analysis"
)

// AnalysisFallback implements [analysis.Provider] with automatic failover
// across multiple analysis backends. Each backend has its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback is
// tried.
type AnalysisFallback struct {
	group *FallbackGroup[analysis.Provider]
}

// Compile-time interface assertion.
var _ analysis.Provider = (*AnalysisFallback)(nil)

// NewAnalysisFallback creates an [AnalysisFallback] with primary as the
// preferred backend.
func NewAnalysisFallback(primary analysis.Provider, primaryName string, cfg FallbackConfig) *AnalysisFallback {
	return &AnalysisFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional analysis provider as a fallback.
func (f *AnalysisFallback) AddFallback(name string, provider analysis.Provider) {
	f.group.AddFallback(name, provider)
}

// Analyze sends the request to the first healthy provider and returns its
// report. If the primary fails, subsequent fallbacks are tried.
func (f *AnalysisFallback) Analyze(ctx context.Context, req analysis.Request) (string, error) {
	return ExecuteWithResult(f.group, func(p analysis.Provider) (string, error) {
		return p.Analyze(ctx, req)
	})
}
