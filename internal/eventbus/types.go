package eventbus

import "time"

// Severity classifies an Event, spec.md §6.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EventType enumerates the lifecycle events the bus carries (spec.md §6).
type EventType string

const (
	EventPipelineStageStart    EventType = "pipeline_stage_start"
	EventPipelineStageComplete EventType = "pipeline_stage_complete"
	EventPipelineComplete      EventType = "pipeline_complete"
	EventPipelineFailed        EventType = "pipeline_failed"
	EventModelStateChanged     EventType = "model_state_changed"
	EventSupervisorRestart     EventType = "supervisor_restart"
)

// Event is one entry on the bus.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
