package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampling strategies.
const (
	// SamplerAlways samples all traces.
	SamplerAlways = "always"

	// SamplerNever samples no traces.
	SamplerNever = "never"

	// SamplerRatio samples a fraction of root traces by trace id.
	SamplerRatio = "ratio"

	// SamplerParentRatio follows the caller's decision when there is one
	// and samples a fraction of root traces otherwise.
	SamplerParentRatio = "parent_ratio"
)

// createSampler creates a sampler for strategy. Every sampler except
// "never" respects a sampled parent.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	switch strategy {
	case SamplerAlways:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio, SamplerParentRatio, "":
		if ratio < 0.0 || ratio > 1.0 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		if strategy == SamplerRatio {
			return sdktrace.TraceIDRatioBased(ratio), nil
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio, parent_ratio)", strategy)
	}
}
