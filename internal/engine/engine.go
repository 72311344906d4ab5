package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cascadeai/modelmesh/internal/cgrag"
	"github.com/cascadeai/modelmesh/internal/complexity"
	core "github.com/cascadeai/modelmesh/internal/core/service"
	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/eventbus"
	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/logging"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
	"github.com/cascadeai/modelmesh/internal/router"
)

// defaultMaxTokens is used when a QueryRequest doesn't specify one.
const defaultMaxTokens = 1024

// Engine is the top-level orchestrator composing every lower layer into the
// six query modes of spec.md §4.H. Grounded on the teacher's service
// dispatcher (internal/app/services/oracle/dispatcher.go): one long-lived
// struct wiring its collaborators, exposing a single entry point, and
// emitting lifecycle events rather than returning side channels.
type Engine struct {
	reg       Registry
	sup       Supervisor
	router    *router.Router
	retriever *cgrag.Retriever
	tracker   *pipeline.Tracker
	bus       *eventbus.Bus
	logger    *logging.Logger
	clients   *clientFactory
	tracer    core.Tracer
}

// New constructs an Engine. retriever may be nil when CGRAG is unconfigured;
// requests with UseContext=true then fail fast with errors.Internal.
func New(reg Registry, sup Supervisor, rt *router.Router, retriever *cgrag.Retriever, tracker *pipeline.Tracker, bus *eventbus.Bus, logger *logging.Logger) *Engine {
	return &Engine{
		reg:       reg,
		sup:       sup,
		router:    rt,
		retriever: retriever,
		tracker:   tracker,
		bus:       bus,
		logger:    logger,
		clients:   newClientFactory(reg),
		tracer:    core.NoopTracer,
	}
}

// WithTracer configures an optional tracer used for per-query spans.
func (e *Engine) WithTracer(tracer core.Tracer) {
	if tracer == nil {
		e.tracer = core.NoopTracer
	} else {
		e.tracer = tracer
	}
}

// Descriptor implements lifecycle.DescriptorProvider.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{Name: "engine", Layer: core.LayerEngine}
}

// Query dispatches req to the mode-specific orchestration function. The
// returned response's ID is also the pipeline/query_id an operator can look
// up via the Pipeline Tracker.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	queryID := newQueryID()
	start := time.Now()

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	e.tracker.Open(queryID)

	resp, err := e.dispatch(ctx, queryID, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			_ = e.tracker.Fail(queryID, errors.Deadline("query"))
			return QueryResponse{}, errors.Deadline("query")
		}
		_ = e.tracker.Fail(queryID, err)
		return QueryResponse{}, err
	}
	resp.ID = queryID
	resp.Metadata.ProcessingTimeMS = time.Since(start).Milliseconds()
	return resp, nil
}

func (e *Engine) dispatch(ctx context.Context, queryID string, req QueryRequest) (resp QueryResponse, err error) {
	ctx, finish := e.tracer.StartSpan(ctx, "engine.query", map[string]string{
		"query_id": queryID,
		"mode":     string(req.Mode),
	})
	defer func() { finish(err) }()

	switch req.Mode {
	case "", ModeSimple:
		return e.runSimple(ctx, queryID, req)
	case ModeTwoStage:
		return e.runTwoStage(ctx, queryID, req)
	case ModeBenchmarkSerial:
		return e.runBenchmark(ctx, queryID, req, false)
	case ModeBenchmarkParallel:
		return e.runBenchmark(ctx, queryID, req, true)
	case ModeCouncilConsensus:
		return e.runCouncil(ctx, queryID, req, false)
	case ModeCouncilAdversarial:
		return e.runCouncil(ctx, queryID, req, true)
	default:
		return QueryResponse{}, errors.InvalidRequest("unknown mode: " + string(req.Mode))
	}
}

// assessComplexity runs the Complexity Assessor and records the pipeline
// stage transition. Shared by every mode that needs a tier decision.
func (e *Engine) assessComplexity(queryID string, req QueryRequest) (complexity.Complexity, error) {
	if err := e.tracker.Enter(queryID, pipeline.StageComplexity, nil); err != nil {
		return complexity.Complexity{}, err
	}
	c := complexity.Assess(req.Query, req.ForcedMode)
	return c, nil
}

// retrieveContext runs the CGRAG retriever, entering the cgrag pipeline
// stage first. Returns a zero RetrievalResult when UseContext is false.
func (e *Engine) retrieveContext(ctx context.Context, queryID string, req QueryRequest) (cgrag.RetrievalResult, error) {
	if !req.UseContext {
		return cgrag.RetrievalResult{WithinBudget: true}, nil
	}
	if e.retriever == nil {
		return cgrag.RetrievalResult{}, errors.Internal("cgrag not configured", nil)
	}
	if err := e.tracker.Enter(queryID, pipeline.StageCGRAG, nil); err != nil {
		return cgrag.RetrievalResult{}, err
	}
	settings := e.reg.Settings()
	return e.retriever.Retrieve(ctx, req.Query, settings.CGRAGTokenBudget, settings.CGRAGMaxArtifacts, 0.0)
}

// selectModel enters the routing stage and asks the Router for a ready
// model in tier.
func (e *Engine) selectModel(queryID string, tier registry.Tier) (string, error) {
	if err := e.tracker.Enter(queryID, pipeline.StageRouting, nil); err != nil {
		return "", err
	}
	return e.router.Select(tier)
}

// generate enters the generation stage and runs a completion against
// modelID, tracking in-flight load around the call. enterStage lets
// callers already past the generation stage (e.g. two-stage's final pass)
// skip the redundant Enter.
func (e *Engine) generate(ctx context.Context, queryID, modelID, prompt string, opts inference.Options, enterStage bool) (string, int, error) {
	if enterStage {
		if err := e.tracker.Enter(queryID, pipeline.StageGeneration, nil); err != nil {
			return "", 0, err
		}
	}
	client, err := e.clients.clientFor(modelID)
	if err != nil {
		return "", 0, err
	}
	e.router.Acquire(modelID)
	defer e.router.Release(modelID)

	completion, err := client.Complete(ctx, prompt, opts)
	if err != nil {
		return "", 0, err
	}
	return completion.Content, completion.TokenCount, nil
}

func withPrompt(context string, query string) string {
	if context == "" {
		return query
	}
	return fmt.Sprintf("Context:\n%s\n\n%s", context, query)
}

func newQueryID() string {
	return "q-" + uuid.NewString()
}
