// Package lifecycle provides the Service contract and ordered Manager that
// the long-lived orchestrator components with a start/stop phase (supervisor,
// pipeline tracker, engine, event bus) are registered with through their
// AsService adapters, so startup and shutdown are deterministic rather than
// ad-hoc per component.
package lifecycle

import (
	"context"

	core "github.com/cascadeai/modelmesh/internal/core/service"
)

// Service represents a lifecycle-managed component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises component metadata.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
