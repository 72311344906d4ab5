package supervisor

import "context"

// AsService adapts Supervisor to lifecycle.Service: Start is a no-op (models
// are brought up explicitly via StartAll once the registry has scanned),
// Stop tears every tracked process down. Named distinctly from the
// per-model Start/Stop since those already take a model_id argument.
type serviceAdapter struct{ s *Supervisor }

func (a serviceAdapter) Name() string { return "supervisor" }

func (a serviceAdapter) Start(_ context.Context) error { return nil }

func (a serviceAdapter) Stop(ctx context.Context) error { return a.s.StopAll(ctx) }

// AsService returns a lifecycle.Service view of this Supervisor.
func (s *Supervisor) AsService() interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
} {
	return serviceAdapter{s: s}
}
