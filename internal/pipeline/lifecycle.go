package pipeline

import "context"

// trackerService adapts Tracker to lifecycle.Service: Start begins the TTL
// sweeper, Stop ends it. Grounded on the same adapter shape the Supervisor
// and EventBus use to resolve Go's one-method-one-signature rule against
// Tracker's own differently-shaped Start/Stop-less API.
type trackerService struct{ t *Tracker }

func (a trackerService) Name() string { return "pipeline" }

func (a trackerService) Start(ctx context.Context) error {
	return a.t.StartSweeper()
}

func (a trackerService) Stop(ctx context.Context) error {
	a.t.StopSweeper()
	return nil
}

// AsService returns a lifecycle.Service view of this Tracker.
func (t *Tracker) AsService() interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
} {
	return trackerService{t: t}
}
