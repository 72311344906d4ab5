package service

// Layer describes the architectural slice a component belongs to.
type Layer string

const (
	LayerRegistry   Layer = "registry"
	LayerSupervisor Layer = "supervisor"
	LayerRetrieval  Layer = "retrieval"
	LayerRouting    Layer = "routing"
	LayerEngine     Layer = "engine"
	LayerEvents     Layer = "events"
)

// Descriptor advertises a component's placement and capabilities. It is
// optional and does not change runtime behavior, but allows an
// introspection endpoint to reason about running components consistently.
type Descriptor struct {
	Name         string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
