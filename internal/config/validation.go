package config

import (
	"ocp-cost/internal/errors"
)

// Validate checks the configuration for fatal construction errors.
func (c *Config) Validate() error {
	switch c.Cost.Distribution.Method {
	case MethodCPU, MethodMemory, MethodWeighted:
	default:
		return errors.Config("unknown distribution method: " + c.Cost.Distribution.Method)
	}

	if c.Cost.Markup < 0 {
		return errors.Config("cost.markup must be non-negative")
	}

	if c.Performance.ChunkSize <= 0 {
		return errors.Config("performance.chunk_size must be positive")
	}

	if c.Performance.ParallelChunks && c.Performance.MaxWorkers <= 0 {
		return errors.Config("performance.max_workers must be positive when parallel_chunks is set")
	}

	if c.Cost.Distribution.Method == MethodWeighted {
		w, ok := c.Cost.Distribution.Weights["aws"]
		if !ok {
			return errors.Config("cost.distribution.weights.aws required for weighted method")
		}
		if w.CPU < 0 || w.Memory < 0 {
			return errors.Config("distribution weights must be non-negative")
		}
	}

	if c.Cost.MatchRateWarnThreshold < 0 || c.Cost.MatchRateWarnThreshold > 1 {
		return errors.Config("cost.match_rate_warn_threshold must be within [0, 1]")
	}

	return nil
}

// ProviderWeights returns the cpu/memory weights for a provider, falling back
// to the AWS defaults when none are configured.
func (c *Config) ProviderWeights(provider string) WeightConfig {
	if w, ok := c.Cost.Distribution.Weights[provider]; ok {
		return w
	}
	return WeightConfig{CPU: 0.73, Memory: 0.27}
}

// AWSMarkup returns the markup fraction for the AWS attribution path.
func (c *Config) AWSMarkup() float64 {
	if c.AWS.Markup != nil {
		return *c.AWS.Markup
	}
	return c.Cost.Markup
}
