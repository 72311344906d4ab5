package router

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/registry"
)

// Registry is the subset of *registry.Registry the router depends on.
type Registry interface {
	GetEnabled() []registry.DiscoveredModel
	Settings() registry.RuntimeSettings
}

// Supervisor is the subset of *supervisor.Supervisor the router depends on.
type Supervisor interface {
	IsReady(modelID string) bool
}

// escalationOrder implements spec.md §4.F's tier-escalation table.
var escalationOrder = map[registry.Tier][]registry.Tier{
	registry.TierFast:     {registry.TierFast, registry.TierBalanced, registry.TierPowerful},
	registry.TierBalanced: {registry.TierBalanced, registry.TierPowerful, registry.TierFast},
	registry.TierPowerful: {registry.TierPowerful, registry.TierBalanced, registry.TierFast},
}

// Router selects a concrete ready model for a requested tier, round-robining
// within the tier and escalating to adjacent tiers when none is ready
// (spec.md §4.F). Grounded on the teacher's RPC pool failover idiom
// (GetBestEndpoint/GetNextEndpoint/health tracking), generalized from
// blockchain RPC endpoints to local inference servers.
type Router struct {
	reg Registry
	sup Supervisor

	mu      sync.Mutex
	cursors map[registry.Tier]int

	inFlight sync.Map // model_id -> *atomic.Int64
	limiters sync.Map // model_id -> *rate.Limiter
}

// New constructs a Router backed by reg and sup.
func New(reg Registry, sup Supervisor) *Router {
	return &Router{
		reg:     reg,
		sup:     sup,
		cursors: make(map[registry.Tier]int),
	}
}

// Select returns a ready model_id for tier, escalating to adjacent tiers if
// necessary. Returns ErrNoModelAvailable if no model in any tier is ready.
func (r *Router) Select(tier registry.Tier) (string, error) {
	order, ok := escalationOrder[tier]
	if !ok {
		order = []registry.Tier{tier}
	}

	for _, candidateTier := range order {
		ready := r.readyModelsInTier(candidateTier)
		if len(ready) == 0 {
			continue
		}
		return r.pickLeastLoaded(candidateTier, ready), nil
	}
	return "", errors.NoModelAvailable(string(tier))
}

// readyModelsInTier returns enabled models assigned to tier (post-override)
// whose supervisor state is ready and whose per-model admission guard (if
// configured) currently allows another request, sorted by model_id for
// determinism.
func (r *Router) readyModelsInTier(tier registry.Tier) []string {
	enabled := lo.Filter(r.reg.GetEnabled(), func(m registry.DiscoveredModel, _ int) bool {
		return m.EffectiveTier() == tier
	})
	ready := lo.FilterMap(enabled, func(m registry.DiscoveredModel, _ int) (string, bool) {
		return m.ModelID, r.sup.IsReady(m.ModelID) && r.admit(m)
	})
	sort.Strings(ready)
	return ready
}

// admit reports whether model's optional per-model rate guard currently
// allows another dispatch. A model with no configured limit (the common
// case) is always admitted.
func (r *Router) admit(m registry.DiscoveredModel) bool {
	limit := r.reg.Settings().MaxRequestsPerSecondPerModel
	if limit <= 0 {
		return true
	}
	v, _ := r.limiters.LoadOrStore(m.ModelID, rate.NewLimiter(rate.Limit(limit), 1))
	return v.(*rate.Limiter).Allow()
}

// pickLeastLoaded advances the tier's round-robin cursor, then breaks ties
// between the round-robin candidate and the least-in-flight candidate by
// preferring whichever has fewer in-flight requests — a lighter-weight
// generalization of the teacher's latency-sorted GetBestEndpoint.
func (r *Router) pickLeastLoaded(tier registry.Tier, candidates []string) string {
	r.mu.Lock()
	idx := r.cursors[tier] % len(candidates)
	r.cursors[tier] = idx + 1
	r.mu.Unlock()

	best := candidates[idx]
	bestLoad := r.loadOf(best)
	for _, c := range candidates {
		if load := r.loadOf(c); load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

func (r *Router) loadOf(modelID string) int64 {
	v, _ := r.inFlight.LoadOrStore(modelID, &atomic.Int64{})
	return v.(*atomic.Int64).Load()
}

// Acquire increments modelID's in-flight counter; the Engine calls this
// before each dispatch to the model.
func (r *Router) Acquire(modelID string) {
	v, _ := r.inFlight.LoadOrStore(modelID, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

// Release decrements modelID's in-flight counter; callers should defer this
// immediately after Acquire.
func (r *Router) Release(modelID string) {
	v, _ := r.inFlight.LoadOrStore(modelID, &atomic.Int64{})
	v.(*atomic.Int64).Add(-1)
}
