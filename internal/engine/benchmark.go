package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/inference"
	"github.com/cascadeai/modelmesh/internal/pipeline"
	"github.com/cascadeai/modelmesh/internal/registry"
	"github.com/cascadeai/modelmesh/internal/supervisor"
)

// defaultBenchmarkBatchSize is used when the registry's runtime settings
// don't specify one.
const defaultBenchmarkBatchSize = 5

// runBenchmark implements spec.md §4.H's benchmark mode: the same prompt is
// sent to every enabled model. Serial mode (parallel=false) runs models one
// at a time for accurate, VRAM-safe timings and skips remaining models once
// the outer deadline has passed. Parallel mode runs in batches of B models
// concurrently, trading timing precision for throughput.
func (e *Engine) runBenchmark(ctx context.Context, queryID string, req QueryRequest, parallel bool) (QueryResponse, error) {
	if err := e.tracker.Enter(queryID, pipeline.StageRouting, nil); err != nil {
		return QueryResponse{}, err
	}

	models := e.reg.GetEnabled()
	if len(models) == 0 {
		return QueryResponse{}, errors.NoModelAvailable("any")
	}

	if err := e.tracker.Enter(queryID, pipeline.StageGeneration, nil); err != nil {
		return QueryResponse{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	var results []BenchmarkResult
	if parallel {
		settings := e.reg.Settings()
		batchSize := settings.BenchmarkBatchSize
		if batchSize <= 0 {
			batchSize = defaultBenchmarkBatchSize
		}
		results = e.benchmarkParallel(ctx, models, req.Query, maxTokens, req.Temperature, batchSize)
	} else {
		results = e.benchmarkSerial(ctx, models, req.Query, maxTokens, req.Temperature)
	}

	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	if successful == 0 {
		_ = e.tracker.Fail(queryID, errors.Internal("all benchmark models failed", nil))
		return QueryResponse{}, errors.Internal("all benchmark models failed", nil)
	}

	mode := ModeBenchmarkSerial
	if parallel {
		mode = ModeBenchmarkParallel
	}

	if err := e.tracker.Enter(queryID, pipeline.StageResponse, nil); err != nil {
		return QueryResponse{}, err
	}
	if err := e.tracker.Complete(queryID, "", "", 0); err != nil {
		return QueryResponse{}, err
	}

	return QueryResponse{
		Query: req.Query,
		Metadata: QueryMetadata{
			QueryMode: mode,
			Benchmark: &BenchmarkMetadata{
				Results:            results,
				SuccessfulModels:   successful,
				TotalModels:        len(models),
				ApproximateTimings: parallel,
			},
		},
	}, nil
}

// benchmarkSerial runs models one at a time. Once ctx's deadline has
// passed, remaining models are recorded as skipped rather than attempted.
func (e *Engine) benchmarkSerial(ctx context.Context, models []registry.DiscoveredModel, query string, maxTokens int, temperature float64) []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(models))
	for _, m := range models {
		if ctx.Err() != nil {
			results = append(results, BenchmarkResult{
				ModelID: m.ModelID,
				Tier:    string(m.EffectiveTier()),
				Success: false,
				Error:   "deadline",
			})
			continue
		}
		results = append(results, e.runOneBenchmark(ctx, m, query, maxTokens, temperature))
	}
	return results
}

// benchmarkParallel runs models in sequential batches of size batchSize,
// concurrently within each batch.
func (e *Engine) benchmarkParallel(ctx context.Context, models []registry.DiscoveredModel, query string, maxTokens int, temperature float64, batchSize int) []BenchmarkResult {
	results := make([]BenchmarkResult, len(models))
	for start := 0; start < len(models); start += batchSize {
		end := start + batchSize
		if end > len(models) {
			end = len(models)
		}
		batch := models[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for i, m := range batch {
			idx, model := start+i, m
			g.Go(func() error {
				if gctx.Err() != nil {
					results[idx] = BenchmarkResult{
						ModelID: model.ModelID,
						Tier:    string(model.EffectiveTier()),
						Success: false,
						Error:   "deadline",
					}
					return nil
				}
				results[idx] = e.runOneBenchmark(ctx, model, query, maxTokens, temperature)
				return nil
			})
		}
		_ = g.Wait()
	}
	return results
}

// runOneBenchmark generates a single model's response and fills in its
// VRAM/context-window estimate, regardless of success.
func (e *Engine) runOneBenchmark(ctx context.Context, m registry.DiscoveredModel, query string, maxTokens int, temperature float64) BenchmarkResult {
	ctxSize := m.Overrides.CtxSize
	if ctxSize == nil {
		defaultCtx := e.reg.Settings().CtxSize
		ctxSize = &defaultCtx
	}
	gpuLayers := m.Overrides.GPULayers
	layers := 0
	if gpuLayers != nil {
		layers = *gpuLayers
	}

	result := BenchmarkResult{
		ModelID:           m.ModelID,
		Tier:              string(m.EffectiveTier()),
		EstimatedVRAMGB:   supervisor.EstimateVRAMGB(m.SizeParamsB, m.Quantization, *ctxSize),
		GPULayersUsed:     layers,
		ContextWindowUsed: *ctxSize,
	}

	client, err := e.clients.clientFor(m.ModelID)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	completion, err := client.Complete(ctx, query, inference.Options{MaxTokens: maxTokens, Temperature: temperature})
	result.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Response = completion.Content
	result.TokenCount = completion.TokenCount
	return result
}
