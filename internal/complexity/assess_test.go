package complexity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadeai/modelmesh/internal/registry"
)

func TestAssessIsDeterministic(t *testing.T) {
	q := "Explain the trade-offs of microservice architecture and how to debug latency."
	a := Assess(q, "")
	b := Assess(q, "")
	require.Equal(t, a.Tier, b.Tier)
	require.Equal(t, a.Score, b.Score)
}

func TestAssessSimpleQueryMapsToFastTier(t *testing.T) {
	c := Assess("What is the capital of France?", "")
	require.Equal(t, registry.TierFast, c.Tier)
}

func TestAssessComplexQueryMapsToPowerfulTier(t *testing.T) {
	q := "Design and implement a fault-tolerant distributed consensus protocol, then formally verify its safety invariants and discuss every trade-off you made, root cause any failure modes, and optimize for both latency and throughput."
	c := Assess(q, "")
	require.Equal(t, registry.TierPowerful, c.Tier)
}

func TestAssessForcedModeOverridesScoring(t *testing.T) {
	c := Assess("Design a distributed consensus protocol", "simple")
	require.Equal(t, registry.TierFast, c.Tier)
	require.Equal(t, "user forced", c.Reasoning)
	require.Zero(t, c.Score)
}

func TestAssessReturnsIndicators(t *testing.T) {
	c := Assess("Explain why the cache invalidates. Also, if the TTL expires, what happens? And what about eviction?", "")
	require.NotEmpty(t, c.Indicators)
}
