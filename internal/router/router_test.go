package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadeai/modelmesh/internal/registry"
)

type fakeRegistry struct {
	models       []registry.DiscoveredModel
	maxPerSecond float64
}

func (f *fakeRegistry) GetEnabled() []registry.DiscoveredModel { return f.models }

func (f *fakeRegistry) Settings() registry.RuntimeSettings {
	return registry.RuntimeSettings{MaxRequestsPerSecondPerModel: f.maxPerSecond}
}

type fakeSupervisor struct{ ready map[string]bool }

func (f *fakeSupervisor) IsReady(modelID string) bool { return f.ready[modelID] }

func model(id string, tier registry.Tier) registry.DiscoveredModel {
	return registry.DiscoveredModel{ModelID: id, Tier: tier, Enabled: true}
}

func TestSelectRoundRobinsWithinTier(t *testing.T) {
	reg := &fakeRegistry{models: []registry.DiscoveredModel{
		model("fast-a", registry.TierFast),
		model("fast-b", registry.TierFast),
	}}
	sup := &fakeSupervisor{ready: map[string]bool{"fast-a": true, "fast-b": true}}
	r := New(reg, sup)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		id, err := r.Select(registry.TierFast)
		require.NoError(t, err)
		seen[id] = true
	}
	require.Len(t, seen, 2, "round-robin should eventually use both ready models")
}

func TestSelectEscalatesWhenTierEmpty(t *testing.T) {
	reg := &fakeRegistry{models: []registry.DiscoveredModel{
		model("balanced-a", registry.TierBalanced),
	}}
	sup := &fakeSupervisor{ready: map[string]bool{"balanced-a": true}}
	r := New(reg, sup)

	id, err := r.Select(registry.TierFast)
	require.NoError(t, err)
	require.Equal(t, "balanced-a", id)
}

func TestSelectNeverReturnsNonReadyModel(t *testing.T) {
	reg := &fakeRegistry{models: []registry.DiscoveredModel{
		model("fast-a", registry.TierFast),
	}}
	sup := &fakeSupervisor{ready: map[string]bool{"fast-a": false}}
	r := New(reg, sup)

	_, err := r.Select(registry.TierFast)
	require.Error(t, err)
}

func TestSelectReturnsErrNoModelAvailableWhenNothingReady(t *testing.T) {
	reg := &fakeRegistry{}
	sup := &fakeSupervisor{ready: map[string]bool{}}
	r := New(reg, sup)

	_, err := r.Select(registry.TierPowerful)
	require.Error(t, err)
}

func TestSelectHonorsPerModelRateGuard(t *testing.T) {
	reg := &fakeRegistry{
		models:       []registry.DiscoveredModel{model("fast-a", registry.TierFast)},
		maxPerSecond: 1,
	}
	sup := &fakeSupervisor{ready: map[string]bool{"fast-a": true}}
	r := New(reg, sup)

	_, err := r.Select(registry.TierFast)
	require.NoError(t, err, "the limiter's initial burst of 1 admits the first request")

	_, err = r.Select(registry.TierFast)
	require.Error(t, err, "a second immediate request exceeds the configured rate and finds no ready model")
}

func TestAcquireReleaseAffectsLeastLoadedTieBreak(t *testing.T) {
	reg := &fakeRegistry{models: []registry.DiscoveredModel{
		model("fast-a", registry.TierFast),
		model("fast-b", registry.TierFast),
	}}
	sup := &fakeSupervisor{ready: map[string]bool{"fast-a": true, "fast-b": true}}
	r := New(reg, sup)

	r.Acquire("fast-a")
	r.Acquire("fast-a")
	id, err := r.Select(registry.TierFast)
	require.NoError(t, err)
	require.Equal(t, "fast-b", id, "the less-loaded model should win the tie-break")

	// After fast-a's requests are released and fast-b takes one, fast-a is
	// the less-loaded model even though the cursor now points at fast-b.
	r.Release("fast-a")
	r.Release("fast-a")
	r.Acquire("fast-b")
	id, err = r.Select(registry.TierFast)
	require.NoError(t, err)
	require.Equal(t, "fast-a", id, "released load should no longer count against fast-a")
}
