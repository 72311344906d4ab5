package complexity

import "github.com/cascadeai/modelmesh/internal/registry"

// Complexity is the Assessor's immutable output, spec.md §3.
type Complexity struct {
	Tier       registry.Tier
	Score      float64
	Reasoning  string
	Indicators []Indicator
}

// Indicator names one contribution to the score, for testability
// (spec.md §4.E).
type Indicator struct {
	Name        string
	Contribution float64
}
