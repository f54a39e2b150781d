// Package config provides configuration management for the engine.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"ocp-cost/internal/logging"
)

// Distribution methods for compute cost attribution.
const (
	MethodCPU      = "cpu"
	MethodMemory   = "memory"
	MethodWeighted = "weighted"
)

// Config is the main engine configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// Performance contains execution tuning
	Performance PerformanceConfig `json:"performance"`

	// Cost contains cost attribution settings
	Cost CostConfig `json:"cost"`

	// OCP contains cluster metadata stamped on every output row
	OCP OCPConfig `json:"ocp"`

	// AWS contains cloud-side metadata
	AWS AWSConfig `json:"aws"`

	// Database contains the summary sink connection settings
	Database DatabaseConfig `json:"database"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// PerformanceConfig contains execution tuning knobs
type PerformanceConfig struct {
	// UseStreaming selects iterator-based aggregation over in-memory
	UseStreaming bool `json:"use_streaming"`

	// ChunkSize is the number of rows per chunk
	ChunkSize int `json:"chunk_size"`

	// ParallelChunks enables worker-pool dispatch of per-chunk work
	ParallelChunks bool `json:"parallel_chunks"`

	// MaxWorkers is the worker count for parallel dispatch
	MaxWorkers int `json:"max_workers"`

	// UseArrowCompute enables columnar compute for label batch-processing
	UseArrowCompute bool `json:"use_arrow_compute"`

	// UseBulkCopy enables streaming bulk-load on the sink
	UseBulkCopy bool `json:"use_bulk_copy"`
}

// CostConfig contains attribution settings
type CostConfig struct {
	// Markup is the fraction applied to each cost flavor
	Markup float64 `json:"markup"`

	// Distribution selects the attribution ratio method
	Distribution DistributionConfig `json:"distribution"`

	// MatchRateWarnThreshold is the overall resource match rate below which
	// a warning is emitted
	MatchRateWarnThreshold float64 `json:"match_rate_warn_threshold"`

	// MatchRateFatal upgrades the low-match-rate warning to an error
	MatchRateFatal bool `json:"match_rate_fatal"`
}

// DistributionConfig selects how compute cost is split across pods
type DistributionConfig struct {
	// Method is one of cpu, memory, weighted
	Method string `json:"method"`

	// Weights contains per-provider cpu/memory weights for the weighted method
	Weights map[string]WeightConfig `json:"weights,omitempty"`
}

// WeightConfig holds cpu/memory weights for one provider
type WeightConfig struct {
	CPU    float64 `json:"cpu_weight"`
	Memory float64 `json:"memory_weight"`
}

// OCPConfig contains cluster metadata
type OCPConfig struct {
	// ClusterID is the cluster identifier
	ClusterID string `json:"cluster_id"`

	// ClusterAlias is the human-readable cluster name
	ClusterAlias string `json:"cluster_alias"`

	// ProviderUUID is the source provider identifier
	ProviderUUID string `json:"provider_uuid"`

	// ReportPeriodID identifies the report period being summarized
	ReportPeriodID int `json:"report_period_id"`
}

// AWSConfig contains cloud-side metadata
type AWSConfig struct {
	// ProviderUUID is the cloud source identifier
	ProviderUUID string `json:"provider_uuid"`

	// Markup overrides Cost.Markup for the AWS attribution path when set
	Markup *float64 `json:"markup,omitempty"`

	// CostEntryBillID identifies the cloud bill
	CostEntryBillID int `json:"cost_entry_bill_id"`
}

// DatabaseConfig contains the summary sink connection settings
type DatabaseConfig struct {
	// DSN is the Postgres connection string
	DSN string `json:"dsn"`

	// Schema is the schema the summary tables live in
	Schema string `json:"schema"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Version: "1.0",
		Performance: PerformanceConfig{
			UseStreaming:    false,
			ChunkSize:       50000,
			ParallelChunks:  false,
			MaxWorkers:      4,
			UseArrowCompute: false,
			UseBulkCopy:     true,
		},
		Cost: CostConfig{
			Markup: 0.10,
			Distribution: DistributionConfig{
				Method: MethodCPU,
				Weights: map[string]WeightConfig{
					"aws": {CPU: 0.73, Memory: 0.27},
				},
			},
			MatchRateWarnThreshold: 0.5,
			MatchRateFatal:         false,
		},
		Database: DatabaseConfig{
			Schema: "public",
		},
		Logging: logging.DefaultConfig(),
	}
}

var current = Default()

// Get returns the current global configuration
func Get() *Config {
	return current
}

// Set replaces the current global configuration
func Set(c *Config) {
	current = c
}

// Load loads configuration from a file, falling back to defaults when the
// file does not exist
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
