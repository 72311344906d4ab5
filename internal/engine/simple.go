package engine

import (
	"context"
	"strings"

	"github.com/cascadeai/modelmesh/internal/cgrag"
	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/pipeline"
)

// runSimple implements spec.md §4.H's simple mode: assess complexity,
// optionally retrieve CGRAG context, route to a ready model in the assessed
// tier, generate, and close out the pipeline.
func (e *Engine) runSimple(ctx context.Context, queryID string, req QueryRequest) (QueryResponse, error) {
	c, err := e.assessComplexity(queryID, req)
	if err != nil {
		return QueryResponse{}, err
	}

	retrieval, err := e.retrieveContext(ctx, queryID, req)
	if err != nil {
		return QueryResponse{}, err
	}

	modelID, err := e.selectModel(queryID, c.Tier)
	if err != nil {
		return QueryResponse{}, err
	}

	prompt := withPrompt(contextExcerpt(retrieval.Artifacts), req.Query)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	content, tokens, err := e.generate(ctx, queryID, modelID, prompt, inference.Options{
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}, true)
	if err != nil {
		return QueryResponse{}, err
	}

	if err := e.tracker.Enter(queryID, pipeline.StageResponse, nil); err != nil {
		return QueryResponse{}, err
	}
	if err := e.tracker.Complete(queryID, modelID, string(c.Tier), len(retrieval.Artifacts)); err != nil {
		return QueryResponse{}, err
	}

	return QueryResponse{
		Query:        req.Query,
		ResponseText: content,
		Metadata: QueryMetadata{
			QueryMode:        ModeSimple,
			Tier:             string(c.Tier),
			ModelID:          modelID,
			CGRAGArtifacts:   len(retrieval.Artifacts),
			ProcessingTimeMS: 0, // stamped by Query once the mode returns
		},
	}, nil
}

// contextExcerpt concatenates retrieved chunks into the "Context:\n<chunks>"
// block spec.md §4.H prescribes, double-newline separated in retrieval order.
func contextExcerpt(artifacts []cgrag.ContextChunk) string {
	if len(artifacts) == 0 {
		return ""
	}
	texts := make([]string, len(artifacts))
	for i, a := range artifacts {
		texts[i] = a.Text
	}
	return strings.Join(texts, "\n\n")
}
