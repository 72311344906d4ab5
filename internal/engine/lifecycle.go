package engine

import "context"

// engineService adapts Engine to lifecycle.Service. Start/Stop are no-ops —
// the Engine holds no background goroutines of its own — but registering it
// still places it first in the Manager's reverse-order shutdown, ensuring
// no new queries are dispatched once shutdown begins.
type engineService struct{ e *Engine }

func (a engineService) Name() string { return "engine" }

func (a engineService) Start(ctx context.Context) error { return nil }

func (a engineService) Stop(ctx context.Context) error { return nil }

// AsService returns a lifecycle.Service view of this Engine.
func (e *Engine) AsService() interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
} {
	return engineService{e: e}
}
