package engine

import "time"

// Mode selects which orchestration strategy Query runs (spec.md §4.H).
type Mode string

const (
	ModeSimple             Mode = "simple"
	ModeTwoStage           Mode = "two_stage"
	ModeBenchmarkSerial    Mode = "benchmark_serial"
	ModeBenchmarkParallel  Mode = "benchmark_parallel"
	ModeCouncilConsensus   Mode = "council_consensus"
	ModeCouncilAdversarial Mode = "council_adversarial"
)

// QueryRequest is the engine's external entry point, spec.md §6.
type QueryRequest struct {
	Mode          Mode
	Query         string
	UseContext    bool
	UseWebSearch  bool
	MaxTokens     int
	Temperature   float64
	ForcedMode    string // passed through to the Complexity Assessor
	Deadline      time.Duration

	// Council-only options.
	MaxTurns          int
	DynamicTermination bool
	Personas          []string
	Moderator         bool
}

// QueryMetadata is the discriminated union of mode-specific payloads
// attached to a QueryResponse (SPEC_FULL.md §4: dict-shaped metadata becomes
// an explicit tagged union keyed on query_mode).
type QueryMetadata struct {
	QueryMode           Mode
	Tier                string
	ModelID             string
	ProcessingTimeMS    int64
	CGRAGArtifacts      int

	TwoStage   *TwoStageMetadata   `json:",omitempty"`
	Benchmark  *BenchmarkMetadata  `json:",omitempty"`
	Council    *CouncilMetadata    `json:",omitempty"`
}

// TwoStageMetadata records both stages' models, timings, and token counts.
type TwoStageMetadata struct {
	DraftModelID   string
	DraftTokens    int
	DraftTimeMS    int64
	FinalModelID   string
	FinalTokens    int
	FinalTimeMS    int64
}

// BenchmarkResult is one model's outcome in benchmark mode, spec.md §4.H.
type BenchmarkResult struct {
	ModelID            string
	Tier               string
	Response           string
	ResponseTimeMS     int64
	TokenCount          int
	Success            bool
	Error              string
	EstimatedVRAMGB    float64
	GPULayersUsed      int
	ContextWindowUsed  int
}

// BenchmarkMetadata summarizes a benchmark run.
type BenchmarkMetadata struct {
	Results             []BenchmarkResult
	SuccessfulModels    int
	TotalModels         int
	ApproximateTimings  bool // true for parallel mode, per spec.md §4.H
}

// DebateTurn is one council turn, spec.md §4.H.
type DebateTurn struct {
	TurnID     string
	TurnNumber int
	SpeakerID  string
	Persona    string
	Content    string
	Timestamp  time.Time
	TokensUsed int
}

// ModeratorReport is the optional post-debate analysis, spec.md §4.H.
type ModeratorReport struct {
	ArgumentStrength   map[string]float64
	LogicalFallacies   []string
	RhetoricalTechniques []string
	KeyTurningPoints   []string
	OverallWinner      string // "pro" | "con" | "tie" | ""
}

// CouncilMetadata summarizes a council run.
type CouncilMetadata struct {
	Turns             []DebateTurn
	TerminationReason string // "max_turns" | "stalemate" | "concession" | "failed"
	Moderator         *ModeratorReport
}

// QueryResponse is the engine's immutable result, spec.md §3.
type QueryResponse struct {
	ID           string
	Query        string
	ResponseText string
	Metadata     QueryMetadata
}
