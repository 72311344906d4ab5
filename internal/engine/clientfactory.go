package engine

import (
	"fmt"
	"sync"

	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/registry"
)

// Registry is the subset of *registry.Registry the engine depends on.
type Registry interface {
	Get(modelID string) (registry.DiscoveredModel, error)
	GetEnabled() []registry.DiscoveredModel
	Settings() registry.RuntimeSettings
}

// Supervisor is the subset of *supervisor.Supervisor the engine depends on.
type Supervisor interface {
	IsReady(modelID string) bool
}

// clientFactory builds and caches one inference.Client per model, resolving
// the server's loopback base URL from the registry's assigned port.
type clientFactory struct {
	reg Registry

	mu      sync.Mutex
	clients map[string]*inference.Client
}

func newClientFactory(reg Registry) *clientFactory {
	return &clientFactory{reg: reg, clients: make(map[string]*inference.Client)}
}

func (f *clientFactory) clientFor(modelID string) (*inference.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[modelID]; ok {
		return c, nil
	}

	model, err := f.reg.Get(modelID)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", model.Port)
	c := inference.New(modelID, model.EffectiveTier(), baseURL)
	f.clients[modelID] = c
	return c, nil
}
