package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRestartBackoffPolicy(t *testing.T) {
	require.Equal(t, time.Duration(0), restartBackoff(1), "first failure restarts immediately")
	require.Equal(t, time.Second, restartBackoff(2))
	require.Equal(t, 2*time.Second, restartBackoff(3))
	require.Equal(t, 4*time.Second, restartBackoff(4))
	require.LessOrEqual(t, restartBackoff(10), maxBackoff)
	require.Equal(t, maxBackoff, restartBackoff(10))
}

func TestEstimateVRAMGBUsesQuantTable(t *testing.T) {
	got := EstimateVRAMGB(13, "Q4_K_M", 4096)
	// 13 * 0.5 + (4096*2 bytes in GB) + 0.5 overhead
	require.InDelta(t, 6.5+0.0000076+0.5, got, 0.01)
}

func TestEstimateVRAMGBUnknownQuantFallsBackToDefault(t *testing.T) {
	known := EstimateVRAMGB(7, "Q4_K_M", 2048)
	unknown := EstimateVRAMGB(7, "totally-unknown-label", 2048)
	require.Equal(t, known, unknown)
}

func TestEffectiveVRAMBudgetGBPrefersOperatorBudget(t *testing.T) {
	require.Equal(t, 24.0, effectiveVRAMBudgetGB(24, nil))
}

func TestEffectiveVRAMBudgetGBFallsBackToHostMemory(t *testing.T) {
	got := effectiveVRAMBudgetGB(0, nil)
	require.Greater(t, got, 0.0, "an unconfigured budget should still cap at a positive fraction of host memory, not go unenforced")
}
