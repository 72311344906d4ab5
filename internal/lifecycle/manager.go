package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	core "github.com/cascadeai/modelmesh/internal/core/service"
)

// Manager owns the lifecycle of registered components. It guarantees
// deterministic start/stop ordering and guards against duplicate invocations.
//
// Shutdown order matters here: the engine must stop first (reject new
// queries) before the supervisor tears down inference servers underneath
// it, and the event bus flushes last so late-arriving shutdown events are
// still observed by subscribers. Stop runs in reverse registration order, so
// register components in the reverse of that order (event bus first, engine
// last).
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
	descr     []DescriptorProvider
}

// NewManager creates an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{services: make([]Service, 0)}
}

// Register appends the provided service to the lifecycle queue. Must occur
// before Start; registering after Start returns an error.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register a nil service")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("service %q registered after manager start", svc.Name())
	}

	m.services = append(m.services, svc)
	if d, ok := svc.(DescriptorProvider); ok {
		m.descr = append(m.descr, d)
	}
	return nil
}

// Start executes Start on all registered services in registration order. If
// any service fails, already-started services are stopped in reverse order
// before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for idx, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("start %s: %w", svc.Name(), err)
				for i := idx - 1; i >= 0; i-- {
					_ = services[i].Stop(ctx)
				}
				break
			}
		}
	})
	return startErr
}

// Stop invokes Stop on all registered services in reverse order. Idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("stop %s: %w", services[i].Name(), err)
			}
		}
	})
	return stopErr
}

// Descriptors returns collected descriptors sorted by layer then name.
func (m *Manager) Descriptors() []core.Descriptor {
	m.mu.Lock()
	providers := append([]DescriptorProvider(nil), m.descr...)
	m.mu.Unlock()

	out := make([]core.Descriptor, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
