package cgrag

import (
	"context"
	"sort"
	"time"

	"github.com/cascadeai/modelmesh/internal/cache"
	"github.com/cascadeai/modelmesh/internal/logging"
)

// queryEmbeddingTTL bounds how long a repeated query can reuse its embedding
// before re-querying the embedding server — short enough that a model swap
// or reindex is reflected promptly, long enough to absorb bursty repeats of
// the same question (e.g. benchmark mode fanning the same prompt out).
const queryEmbeddingTTL = 2 * time.Minute

// Retriever answers retrieve(query, token_budget, max_artifacts, min_relevance)
// requests against a persisted index (spec.md §4.D).
type Retriever struct {
	dir        string
	embedder   Embedder
	logger     *logging.Logger
	embedCache *cache.TTLCache
}

// NewRetriever constructs a Retriever reading the index persisted at dir.
func NewRetriever(dir string, embedder Embedder, logger *logging.Logger) *Retriever {
	return &Retriever{
		dir:        dir,
		embedder:   embedder,
		logger:     logger,
		embedCache: cache.NewTTLCache(queryEmbeddingTTL),
	}
}

type scoredChunk struct {
	chunk ContextChunk
	score float64
}

// Retrieve implements the five-step algorithm of spec.md §4.D: embed, search
// top-K by inner product, filter by relevance floor, greedy-pack by token
// budget, return in selected order with a deterministic tie-break.
func (r *Retriever) Retrieve(ctx context.Context, query string, tokenBudget, maxArtifacts int, minRelevance float64) (RetrievalResult, error) {
	vectors, metas, _, err := loadIndex(r.dir)
	if err != nil {
		return RetrievalResult{}, err
	}
	if len(vectors) == 0 {
		return RetrievalResult{WithinBudget: true}, nil
	}

	queryVec, err := r.embedQuery(ctx, query)
	if err != nil {
		return RetrievalResult{}, err
	}

	scored := make([]scoredChunk, len(vectors))
	for i, vec := range vectors {
		scored[i] = scoredChunk{chunk: metas[i], score: innerProduct(queryVec, vec)}
	}

	k := maxArtifacts * 3
	if k < 20 {
		k = 20
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		// Deterministic tie-break: ascending (source_path, chunk_index).
		if scored[i].chunk.SourcePath != scored[j].chunk.SourcePath {
			return scored[i].chunk.SourcePath < scored[j].chunk.SourcePath
		}
		return scored[i].chunk.ChunkIndex < scored[j].chunk.ChunkIndex
	})
	if k < len(scored) {
		scored = scored[:k]
	}

	var candidates []scoredChunk
	for _, sc := range scored {
		if sc.score >= minRelevance {
			candidates = append(candidates, sc)
		}
	}

	var selected []ContextChunk
	totalTokens := 0
	for _, sc := range candidates {
		if len(selected) >= maxArtifacts {
			break
		}
		if totalTokens+sc.chunk.TokenCount >= tokenBudget {
			continue // reaching the budget exactly still disqualifies; a smaller later chunk may still fit
		}
		c := sc.chunk
		c.Relevance = sc.score
		selected = append(selected, c)
		totalTokens += c.TokenCount
	}

	return RetrievalResult{
		Artifacts:    selected,
		TotalTokens:  totalTokens,
		WithinBudget: totalTokens <= tokenBudget,
	}, nil
}

// embedQuery returns query's embedding, serving a cached vector for a
// repeat query within queryEmbeddingTTL instead of re-calling the embedder.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if cached, ok := r.embedCache.Get(ctx, query); ok {
		return cached.([]float32), nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	r.embedCache.Set(ctx, query, vec)
	return vec, nil
}

func innerProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
