// Package registry discovers model files on disk, assigns them to capability
// tiers and ports, and persists the result atomically. It is the single
// source of truth the Supervisor and Router consult; neither of those
// packages holds its own copy of model metadata.
package registry

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// Tier is the coarse capability class a model is assigned to.
type Tier string

const (
	TierFast     Tier = "fast"     // Q2
	TierBalanced Tier = "balanced" // Q3
	TierPowerful Tier = "powerful" // Q4
)

// ModelOverrides holds operator-supplied per-model runtime overrides layered
// over the global RuntimeSettings defaults.
type ModelOverrides struct {
	GPULayers *int `json:"gpu_layers,omitempty"`
	CtxSize   *int `json:"ctx_size,omitempty"`
	Threads   *int `json:"threads,omitempty"`
	BatchSize *int `json:"batch_size,omitempty"`
}

// ParseOverrides coerces a loosely-typed override map — as decoded from an
// operator-supplied config file or CLI flag value (JSON numbers arrive as
// float64, CLI flags as strings) — into a strongly-typed ModelOverrides.
// Keys absent from raw leave the corresponding field nil (no override).
func ParseOverrides(raw map[string]interface{}) (ModelOverrides, error) {
	var out ModelOverrides
	for key, val := range raw {
		n, err := cast.ToIntE(val)
		if err != nil {
			return ModelOverrides{}, fmt.Errorf("override %q: %w", key, err)
		}
		switch key {
		case "gpu_layers":
			out.GPULayers = &n
		case "ctx_size":
			out.CtxSize = &n
		case "threads":
			out.Threads = &n
		case "batch_size":
			out.BatchSize = &n
		default:
			return ModelOverrides{}, fmt.Errorf("override %q: unknown key", key)
		}
	}
	return out, nil
}

// DiscoveredModel is one locally available model file plus the operator
// overrides and scan-derived static attributes describing it.
type DiscoveredModel struct {
	ModelID string `json:"model_id"`

	// Static, scan-derived.
	Path         string  `json:"path"`
	Family       string  `json:"family"`
	Version      string  `json:"version"`
	SizeParamsB  float64 `json:"size_params_b"`
	Quantization string  `json:"quantization"`
	IsThinking   bool    `json:"is_thinking"`
	IsCoder      bool    `json:"is_coder"`
	IsInstruct   bool    `json:"is_instruct"`

	// Registry attributes, mutable by operator.
	Tier             Tier           `json:"tier"`
	Port             int            `json:"port"`
	Enabled          bool           `json:"enabled"`
	Overrides        ModelOverrides `json:"overrides"`
	TierOverride     *Tier          `json:"tier_override,omitempty"`
	ThinkingOverride *bool          `json:"thinking_override,omitempty"`
}

// EffectiveTier returns TierOverride when present, otherwise Tier.
func (m DiscoveredModel) EffectiveTier() Tier {
	if m.TierOverride != nil {
		return *m.TierOverride
	}
	return m.Tier
}

// EffectiveThinking returns ThinkingOverride when present, otherwise IsThinking.
func (m DiscoveredModel) EffectiveThinking() bool {
	if m.ThinkingOverride != nil {
		return *m.ThinkingOverride
	}
	return m.IsThinking
}

// TierThresholds controls the default tier-assignment rule (spec.md §4.A):
// size >= PowerfulMin => powerful; size <= FastMax => fast; else balanced.
type TierThresholds struct {
	PowerfulMin float64 `json:"powerful_min"`
	FastMax     float64 `json:"fast_max"`
}

// PortRange is the inclusive range the registry assigns enabled-model ports from.
type PortRange struct {
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// RuntimeSettings are the global defaults layered under per-model
// ModelOverrides: GPU layers, context size, threads, batch size, plus the
// CGRAG and benchmark knobs the rest of the system reads from the registry
// document (spec.md §6's "Runtime settings JSON").
type RuntimeSettings struct {
	GPULayers            int `json:"gpu_layers"`
	CtxSize              int `json:"ctx_size"`
	Threads              int `json:"threads"`
	BatchSize            int `json:"batch_size"`
	CGRAGTokenBudget      int `json:"cgrag_token_budget"`
	CGRAGMaxArtifacts     int `json:"cgrag_max_artifacts"`
	BenchmarkBatchSize    int `json:"benchmark_batch_size"`

	// MaxRequestsPerSecondPerModel bounds how often the Router will admit a
	// dispatch to a single model_id, independent of its in-flight count. 0
	// disables the guard (unlimited).
	MaxRequestsPerSecondPerModel float64 `json:"max_requests_per_second_per_model"`
}

// DefaultRuntimeSettings returns sensible process-wide defaults.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		GPULayers:          35,
		CtxSize:            4096,
		Threads:            8,
		BatchSize:          512,
		CGRAGTokenBudget:   6000,
		CGRAGMaxArtifacts:  8,
		BenchmarkBatchSize: 5,
	}
}

// document is the on-disk shape persisted under the registry JSON path
// (spec.md §6): {scan_path, last_scan, port_range, tier_thresholds, models}.
type document struct {
	ScanPath       string                     `json:"scan_path"`
	LastScan       time.Time                  `json:"last_scan"`
	PortRange      PortRange                  `json:"port_range"`
	TierThresholds TierThresholds             `json:"tier_thresholds"`
	Settings       RuntimeSettings            `json:"settings"`
	Models         map[string]DiscoveredModel `json:"models"`
}
