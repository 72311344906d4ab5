package pipeline

import "time"

// StageName is one of the fixed stages a Pipeline moves through, spec.md §4.G.
type StageName string

const (
	StageInput      StageName = "input"
	StageComplexity StageName = "complexity"
	StageCGRAG      StageName = "cgrag"
	StageRouting    StageName = "routing"
	StageGeneration StageName = "generation"
	StageResponse   StageName = "response"
)

// stageOrder fixes the legal stage sequence; entering out of this order is
// rejected (spec.md §4.G), though skipping ahead (e.g. CGRAG disabled) is legal.
var stageOrder = []StageName{StageInput, StageComplexity, StageCGRAG, StageRouting, StageGeneration, StageResponse}

func stageRank(name StageName) int {
	for i, s := range stageOrder {
		if s == name {
			return i
		}
	}
	return -1
}

// StageStatus is a Stage's lifecycle state.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// OverallStatus is the Pipeline's lifecycle state.
type OverallStatus string

const (
	StatusProcessing OverallStatus = "processing"
	StatusCompleted  OverallStatus = "completed"
	StatusFailed     OverallStatus = "failed"
	StatusCancelled  OverallStatus = "cancelled"
)

// Stage records one named step's timing and status.
type Stage struct {
	Name       StageName
	Status     StageStatus
	Start      time.Time
	End        *time.Time
	DurationMS int64
	Metadata   map[string]interface{}
	Error      string
}

// Pipeline is the per-query state spec.md §3 describes.
type Pipeline struct {
	QueryID             string
	Stages              []Stage
	CurrentStage        StageName
	OverallStatus       OverallStatus
	ModelSelected        string
	Tier                string
	CGRAGArtifactsCount int
	CreatedAt           time.Time
}

// snapshot returns a defensive copy safe to hand to callers outside the lock.
func (p *Pipeline) snapshot() Pipeline {
	cp := *p
	cp.Stages = append([]Stage(nil), p.Stages...)
	return cp
}
