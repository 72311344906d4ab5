package inference

import (
	"time"

	"github.com/cascadeai/modelmesh/internal/registry"
)

// Options is the caller-supplied generation request, spec.md §4.C.
type Options struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
	Stream      bool
}

// Completion is the Inference Client's normalized response.
type Completion struct {
	Content    string
	TokenCount int
	Raw        string
}

// tierConfig carries the deadline/retry knobs spec.md §4.C fixes per tier.
type tierConfig struct {
	Deadline   time.Duration
	RetryCount int
	RetryDelay time.Duration
}

var tierConfigs = map[registry.Tier]tierConfig{
	registry.TierFast:     {Deadline: 30 * time.Second, RetryCount: 0, RetryDelay: 2 * time.Second},
	registry.TierBalanced: {Deadline: 45 * time.Second, RetryCount: 2, RetryDelay: 2 * time.Second},
	registry.TierPowerful: {Deadline: 120 * time.Second, RetryCount: 1, RetryDelay: 3 * time.Second},
}

func configFor(tier registry.Tier) tierConfig {
	if cfg, ok := tierConfigs[tier]; ok {
		return cfg
	}
	return tierConfigs[registry.TierBalanced]
}
