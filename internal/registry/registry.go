package registry

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/logging"
)

// Registry is the single-writer, multi-reader store of discovered models.
// Readers take a Snapshot; persistence never blocks readers (write-temp-
// then-rename, per spec.md §5).
type Registry struct {
	mu     sync.RWMutex
	store  *store
	doc    document
	logger *logging.Logger
}

// Config configures a new Registry.
type Config struct {
	PersistPath    string
	PortRange      PortRange
	TierThresholds TierThresholds
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(persistPath string) Config {
	return Config{
		PersistPath:    persistPath,
		PortRange:      PortRange{Lo: 8100, Hi: 8199},
		TierThresholds: TierThresholds{PowerfulMin: 30, FastMax: 4},
	}
}

// New constructs a Registry, loading any existing persisted document.
func New(cfg Config, logger *logging.Logger) (*Registry, error) {
	s := newStore(cfg.PersistPath)
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = &document{
			PortRange:      cfg.PortRange,
			TierThresholds: cfg.TierThresholds,
			Settings:       DefaultRuntimeSettings(),
			Models:         make(map[string]DiscoveredModel),
		}
	}
	return &Registry{store: s, doc: *doc, logger: logger}, nil
}

// Scan walks rootPath, identifies model files, and merges discoveries into
// the registry. Existing operator overrides for a model_id that reappears
// are preserved (spec.md §4.A).
func (r *Registry) Scan(rootPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	discovered := make(map[string]DiscoveredModel)

	walkErr := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isModelFile(path) {
			return nil
		}
		parsed := parseFilename(path)
		id := deriveModelID(path, parsed)
		tier := assignTier(parsed.SizeParamsB, r.doc.TierThresholds)

		model := DiscoveredModel{
			ModelID:      id,
			Path:         path,
			Family:       parsed.Family,
			Version:      parsed.Version,
			SizeParamsB:  parsed.SizeParamsB,
			Quantization: parsed.Quantization,
			IsThinking:   parsed.IsThinking,
			IsCoder:      parsed.IsCoder,
			IsInstruct:   parsed.IsInstruct,
			Tier:         tier,
			Enabled:      false,
		}

		if existing, ok := r.doc.Models[id]; ok {
			model.Tier = existing.Tier
			model.Port = existing.Port
			model.Enabled = existing.Enabled
			model.Overrides = existing.Overrides
			model.TierOverride = existing.TierOverride
			model.ThinkingOverride = existing.ThinkingOverride
		}

		discovered[id] = model
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("scan %s: %w", rootPath, walkErr)
	}

	// Assign ports to any enabled model that doesn't have one yet.
	used := make(map[int]string)
	for id, m := range discovered {
		if m.Enabled && m.Port != 0 {
			used[m.Port] = id
		}
	}
	for id, m := range discovered {
		if !m.Enabled || m.Port != 0 {
			continue
		}
		port, err := nextFreePort(r.doc.PortRange, used)
		if err != nil {
			return err
		}
		m.Port = port
		used[port] = id
		discovered[id] = m
	}

	r.doc.Models = discovered
	r.doc.ScanPath = rootPath
	r.doc.LastScan = time.Now()

	if r.logger != nil {
		r.logger.WithField("count", len(discovered)).WithField("root", rootPath).Info("registry scan complete")
	}

	return r.store.save(&r.doc)
}

func nextFreePort(rng PortRange, used map[int]string) (int, error) {
	for p := rng.Lo; p <= rng.Hi; p++ {
		if _, taken := used[p]; !taken {
			return p, nil
		}
	}
	return 0, errors.PortExhausted(rng.Lo, rng.Hi)
}

// Patch describes a mutable subset of DiscoveredModel fields an operator may update.
type Patch struct {
	Tier             *Tier
	Port             *int
	Enabled          *bool
	Overrides        *ModelOverrides
	TierOverride     *Tier
	ThinkingOverride *bool
}

// Update mutates a model's tier/thinking/enabled/port/overrides, re-checks
// invariants, and persists atomically.
func (r *Registry) Update(modelID string, patch Patch) (DiscoveredModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	model, ok := r.doc.Models[modelID]
	if !ok {
		return DiscoveredModel{}, errors.UnknownModel(modelID)
	}

	next := model
	if patch.Tier != nil {
		next.Tier = *patch.Tier
	}
	if patch.Overrides != nil {
		next.Overrides = *patch.Overrides
	}
	if patch.TierOverride != nil {
		next.TierOverride = patch.TierOverride
	}
	if patch.ThinkingOverride != nil {
		next.ThinkingOverride = patch.ThinkingOverride
	}
	if patch.Port != nil {
		if owner := r.findPortOwner(*patch.Port, modelID); owner != "" {
			return DiscoveredModel{}, errors.PortConflict(*patch.Port, owner)
		}
		next.Port = *patch.Port
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
		if next.Enabled && next.Port == 0 {
			used := r.usedPorts("")
			port, err := nextFreePort(r.doc.PortRange, used)
			if err != nil {
				return DiscoveredModel{}, err
			}
			next.Port = port
		}
	}

	r.doc.Models[modelID] = next
	if err := r.store.save(&r.doc); err != nil {
		return DiscoveredModel{}, err
	}
	return next, nil
}

// UpdateOverridesRaw parses raw (a loosely-typed override map, e.g. decoded
// from a config file or operator-supplied JSON blob) and applies it to
// modelID via Update.
func (r *Registry) UpdateOverridesRaw(modelID string, raw map[string]interface{}) (DiscoveredModel, error) {
	overrides, err := ParseOverrides(raw)
	if err != nil {
		return DiscoveredModel{}, err
	}
	return r.Update(modelID, Patch{Overrides: &overrides})
}

func (r *Registry) findPortOwner(port int, excludeID string) string {
	for id, m := range r.doc.Models {
		if id == excludeID || !m.Enabled {
			continue
		}
		if m.Port == port {
			return id
		}
	}
	return ""
}

func (r *Registry) usedPorts(excludeID string) map[int]string {
	used := make(map[int]string)
	for id, m := range r.doc.Models {
		if id == excludeID || !m.Enabled {
			continue
		}
		used[m.Port] = id
	}
	return used
}

// Enable marks a model enabled, assigning a port if it has none. Disabling
// is a no-op for routing purposes until the supervisor has also stopped the
// server (spec.md §4.A) — this method only flips the registry flag.
func (r *Registry) Enable(modelID string) (DiscoveredModel, error) {
	enabled := true
	return r.Update(modelID, Patch{Enabled: &enabled})
}

// Disable flips enabled to false.
func (r *Registry) Disable(modelID string) (DiscoveredModel, error) {
	enabled := false
	return r.Update(modelID, Patch{Enabled: &enabled})
}

// Get returns one model by id.
func (r *Registry) Get(modelID string) (DiscoveredModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.doc.Models[modelID]
	if !ok {
		return DiscoveredModel{}, errors.UnknownModel(modelID)
	}
	return m, nil
}

// GetEnabled returns all enabled models, sorted by model_id for determinism.
func (r *Registry) GetEnabled() []DiscoveredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DiscoveredModel, 0, len(r.doc.Models))
	for _, m := range r.doc.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Settings returns the current RuntimeSettings.
func (r *Registry) Settings() RuntimeSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Settings
}

// UpdateSettings replaces the RuntimeSettings document and persists it.
func (r *Registry) UpdateSettings(next RuntimeSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Settings = next
	return r.store.save(&r.doc)
}

// Snapshot returns a read-only copy of all known models without holding the
// write lock across a caller's subsequent work (SPEC_FULL.md §5.A).
func (r *Registry) Snapshot() []DiscoveredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DiscoveredModel, 0, len(r.doc.Models))
	for _, m := range r.doc.Models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
