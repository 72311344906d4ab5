package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
)

// refinementInstruction is prepended to the stage-2 prompt, per spec.md §4.H.
const refinementInstruction = "Review the draft answer below against the original question and the supporting context. Produce a refined, corrected final answer."

// runTwoStage implements spec.md §4.H's two-stage mode: a fast/balanced
// model drafts against full CGRAG context, then a powerful model refines
// the draft. Stage-1 failure is fatal — it never silently degrades to a
// single-stage response.
func (e *Engine) runTwoStage(ctx context.Context, queryID string, req QueryRequest) (QueryResponse, error) {
	c, err := e.assessComplexity(queryID, req)
	if err != nil {
		return QueryResponse{}, err
	}

	draftTier := c.Tier
	if draftTier == registry.TierPowerful {
		draftTier = registry.TierBalanced
	}

	retrieval, err := e.retrieveContext(ctx, queryID, req)
	if err != nil {
		return QueryResponse{}, err
	}
	excerpt := contextExcerpt(retrieval.Artifacts)

	draftModelID, err := e.selectModel(queryID, draftTier)
	if err != nil {
		return QueryResponse{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	draftStart := time.Now()
	draft, draftTokens, err := e.generate(ctx, queryID, draftModelID, withPrompt(excerpt, req.Query), inference.Options{
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, true)
	if err != nil {
		return QueryResponse{}, err
	}
	draftTimeMS := time.Since(draftStart).Milliseconds()

	// The pipeline is already in the generation stage, so the refinement
	// model is chosen without re-entering routing (that would be backwards).
	finalModelID, err := e.router.Select(registry.TierPowerful)
	if err != nil {
		return QueryResponse{}, err
	}

	finalPrompt := fmt.Sprintf("%s\n\nOriginal question:\n%s\n\nDraft answer:\n%s\n\nContext excerpt:\n%s",
		refinementInstruction, req.Query, draft, excerpt)

	finalStart := time.Now()
	final, finalTokens, err := e.generate(ctx, queryID, finalModelID, finalPrompt, inference.Options{
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, false)
	if err != nil {
		return QueryResponse{}, err
	}
	finalTimeMS := time.Since(finalStart).Milliseconds()

	if err := e.tracker.Enter(queryID, pipeline.StageResponse, nil); err != nil {
		return QueryResponse{}, err
	}
	if err := e.tracker.Complete(queryID, finalModelID, string(registry.TierPowerful), len(retrieval.Artifacts)); err != nil {
		return QueryResponse{}, err
	}

	return QueryResponse{
		Query:        req.Query,
		ResponseText: final,
		Metadata: QueryMetadata{
			QueryMode:      ModeTwoStage,
			Tier:           string(registry.TierPowerful),
			ModelID:        finalModelID,
			CGRAGArtifacts: len(retrieval.Artifacts),
			TwoStage: &TwoStageMetadata{
				DraftModelID: draftModelID,
				DraftTokens:  draftTokens,
				DraftTimeMS:  draftTimeMS,
				FinalModelID: finalModelID,
				FinalTokens:  finalTokens,
				FinalTimeMS:  finalTimeMS,
			},
		},
	}, nil
}
