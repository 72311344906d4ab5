package pipeline

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	core "github.com/cascadeai/modelmesh/internal/core/service"
	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/eventbus"
	"github.com/cascadeai/modelmesh/internal/logging"
)

const (
	completedTTL = time.Hour
	orphanedTTL  = 15 * time.Minute
)

// Tracker is the in-memory query_id -> Pipeline map of spec.md §4.G, with a
// periodic sweep grounded on the teacher's `robfig/cron/v3` job scheduling.
type Tracker struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline

	bus    *eventbus.Bus
	logger *logging.Logger
	cron   *cron.Cron
}

// New constructs a Tracker that publishes stage/lifecycle events to bus.
func New(bus *eventbus.Bus, logger *logging.Logger) *Tracker {
	return &Tracker{
		pipelines: make(map[string]*Pipeline),
		bus:       bus,
		logger:    logger,
	}
}

// Descriptor implements lifecycle.DescriptorProvider.
func (t *Tracker) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "pipeline", Layer: core.LayerEngine}
}

// Open creates a new Pipeline with current_stage = input, status = processing.
func (t *Tracker) Open(queryID string) *Pipeline {
	now := time.Now()
	p := &Pipeline{
		QueryID:       queryID,
		CurrentStage:  StageInput,
		OverallStatus: StatusProcessing,
		CreatedAt:     now,
		Stages: []Stage{{
			Name:   StageInput,
			Status: StageActive,
			Start:  now,
		}},
	}

	t.mu.Lock()
	t.pipelines[queryID] = p
	t.mu.Unlock()

	t.publish(eventbus.EventPipelineStageStart, eventbus.SeverityInfo, queryID, string(StageInput))
	return p
}

// Enter closes the current active stage as completed and opens stageName as
// active. Entering a stage earlier in the fixed order than the current one
// is rejected.
func (t *Tracker) Enter(queryID string, stageName StageName, metadata map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pipelines[queryID]
	if !ok {
		return errors.InvalidRequest("unknown pipeline: " + queryID)
	}
	if p.OverallStatus != StatusProcessing {
		return errors.InvalidRequest("pipeline is no longer processing")
	}
	if stageRank(stageName) <= stageRank(p.CurrentStage) {
		return errors.InvalidRequest("stage entered backwards: " + string(stageName))
	}

	t.closeActive(p, StageCompleted, "")

	p.Stages = append(p.Stages, Stage{
		Name:     stageName,
		Status:   StageActive,
		Start:    time.Now(),
		Metadata: metadata,
	})
	p.CurrentStage = stageName

	t.publishLocked(eventbus.EventPipelineStageStart, eventbus.SeverityInfo, queryID, string(stageName))
	return nil
}

// Fail closes the active stage as failed and sets overall status failed.
func (t *Tracker) Fail(queryID string, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pipelines[queryID]
	if !ok {
		return errors.InvalidRequest("unknown pipeline: " + queryID)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	t.closeActive(p, StageFailed, msg)
	p.OverallStatus = StatusFailed

	t.publishLocked(eventbus.EventPipelineFailed, eventbus.SeverityError, queryID, msg)
	return nil
}

// Complete closes the active stage and marks the pipeline completed,
// recording the query's outcome summary.
func (t *Tracker) Complete(queryID string, modelSelected string, tier string, cgragArtifactsCount int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pipelines[queryID]
	if !ok {
		return errors.InvalidRequest("unknown pipeline: " + queryID)
	}

	t.closeActive(p, StageCompleted, "")
	p.OverallStatus = StatusCompleted
	p.ModelSelected = modelSelected
	p.Tier = tier
	p.CGRAGArtifactsCount = cgragArtifactsCount

	t.publishLocked(eventbus.EventPipelineComplete, eventbus.SeverityInfo, queryID, "")
	return nil
}

// closeActive stamps the last stage's end time/duration and status. Caller
// holds t.mu.
func (t *Tracker) closeActive(p *Pipeline, status StageStatus, errMsg string) {
	if len(p.Stages) == 0 {
		return
	}
	last := &p.Stages[len(p.Stages)-1]
	if last.Status != StageActive {
		return
	}
	now := time.Now()
	last.End = &now
	last.DurationMS = now.Sub(last.Start).Milliseconds()
	last.Status = status
	last.Error = errMsg
}

// Get returns a defensive copy of the pipeline, or false if unknown.
func (t *Tracker) Get(queryID string) (Pipeline, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.pipelines[queryID]
	if !ok {
		return Pipeline{}, false
	}
	return p.snapshot(), true
}

// Stats summarizes the tracker's current pipeline population by status.
type Stats struct {
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
	Total      int
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Stats
	for _, p := range t.pipelines {
		s.Total++
		switch p.OverallStatus {
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (t *Tracker) publish(eventType eventbus.EventType, sev eventbus.Severity, queryID, detail string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Severity:  sev,
		Message:   detail,
		Metadata:  map[string]interface{}{"query_id": queryID},
	})
}

// publishLocked is publish called while t.mu is already held; Bus.Publish
// takes its own lock, so this is safe to call without releasing t.mu.
func (t *Tracker) publishLocked(eventType eventbus.EventType, sev eventbus.Severity, queryID, detail string) {
	t.publish(eventType, sev, queryID, detail)
}

// StartSweeper begins the periodic eviction of pipelines older than their
// TTL (completed/failed: 1 hour; orphaned processing: 15 minutes),
// spec.md §4.G.
func (t *Tracker) StartSweeper() error {
	t.cron = cron.New()
	_, err := t.cron.AddFunc("@every 1m", t.sweep)
	if err != nil {
		return err
	}
	t.cron.Start()
	return nil
}

// StopSweeper stops the periodic eviction job.
func (t *Tracker) StopSweeper() {
	if t.cron != nil {
		t.cron.Stop()
	}
}

func (t *Tracker) sweep() {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.pipelines {
		age := now.Sub(p.CreatedAt)
		switch p.OverallStatus {
		case StatusCompleted, StatusFailed, StatusCancelled:
			if age > completedTTL {
				delete(t.pipelines, id)
			}
		case StatusProcessing:
			if age > orphanedTTL {
				delete(t.pipelines, id)
			}
		}
	}
}
