package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake model bytes"), 0o644))
	return path
}

// TestScanAssignsTiersAndDistinctPorts covers scenario S1 from spec.md §8:
// three models at distinct sizes scan into fast/balanced/powerful tiers
// with distinct ports once enabled.
func TestScanAssignsTiersAndDistinctPorts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llama-3b-instruct.Q2_K.gguf")
	writeFile(t, dir, "llama-13b-instruct.Q4_K_M.gguf")
	writeFile(t, dir, "llama-70b-instruct.Q4_K_M.gguf")

	cfg := DefaultConfig(filepath.Join(dir, "registry.json"))
	cfg.TierThresholds = TierThresholds{PowerfulMin: 30, FastMax: 4}
	reg, err := New(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Scan(dir))

	models := reg.Snapshot()
	require.Len(t, models, 3)

	byTier := map[Tier]int{}
	for _, m := range models {
		byTier[m.Tier]++
		_, err := reg.Enable(m.ModelID)
		require.NoError(t, err)
	}
	require.Equal(t, 1, byTier[TierFast])
	require.Equal(t, 1, byTier[TierBalanced])
	require.Equal(t, 1, byTier[TierPowerful])

	enabled := reg.GetEnabled()
	require.Len(t, enabled, 3)
	ports := map[int]bool{}
	for _, m := range enabled {
		require.False(t, ports[m.Port], "port %d reused across enabled models", m.Port)
		ports[m.Port] = true
	}
}

// TestPortConflictRejected covers testable property 1 from spec.md §8.
func TestPortConflictRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-7b-instruct.Q4_K_M.gguf")
	writeFile(t, dir, "b-7b-instruct.Q4_K_M.gguf")

	cfg := DefaultConfig(filepath.Join(dir, "registry.json"))
	reg, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Scan(dir))

	models := reg.Snapshot()
	require.Len(t, models, 2)

	_, err = reg.Enable(models[0].ModelID)
	require.NoError(t, err)
	enabledFirst, err := reg.Get(models[0].ModelID)
	require.NoError(t, err)

	_, err = reg.Enable(models[1].ModelID)
	require.NoError(t, err)

	port := enabledFirst.Port
	_, err = reg.Update(models[1].ModelID, Patch{Port: &port})
	require.Error(t, err)
}

func TestScanPreservesOperatorOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llama-7b-instruct.Q4_K_M.gguf")

	cfg := DefaultConfig(filepath.Join(dir, "registry.json"))
	reg, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Scan(dir))

	models := reg.Snapshot()
	require.Len(t, models, 1)
	id := models[0].ModelID

	override := TierPowerful
	_, err = reg.Update(id, Patch{TierOverride: &override})
	require.NoError(t, err)

	require.NoError(t, reg.Scan(dir))

	m, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, TierPowerful, m.EffectiveTier())
}

func TestParseOverridesCoercesLooseTypes(t *testing.T) {
	overrides, err := ParseOverrides(map[string]interface{}{
		"gpu_layers": "20",
		"ctx_size":   8192.0,
		"threads":    16,
	})
	require.NoError(t, err)
	require.Equal(t, 20, *overrides.GPULayers)
	require.Equal(t, 8192, *overrides.CtxSize)
	require.Equal(t, 16, *overrides.Threads)
	require.Nil(t, overrides.BatchSize)
}

func TestParseOverridesRejectsUnknownKey(t *testing.T) {
	_, err := ParseOverrides(map[string]interface{}{"bogus": "1"})
	require.Error(t, err)
}

func TestUpdateOverridesRawAppliesToModel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llama-7b-instruct.Q4_K_M.gguf")

	cfg := DefaultConfig(filepath.Join(dir, "registry.json"))
	reg, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Scan(dir))

	models := reg.Snapshot()
	require.Len(t, models, 1)
	id := models[0].ModelID

	updated, err := reg.UpdateOverridesRaw(id, map[string]interface{}{"ctx_size": "16384"})
	require.NoError(t, err)
	require.Equal(t, 16384, *updated.Overrides.CtxSize)
}
