package cgrag

import (
	"context"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	core "github.com/cascadeai/modelmesh/internal/core/service"
	"github.com/cascadeai/modelmesh/internal/errors"
	"github.com/cascadeai/modelmesh/internal/httpkit"
)

// embedRetryPolicy gives embedding calls the same linear-backoff shape the
// Inference Client uses, since the embedding server is just as liable to
// transient hiccups under indexing load as an inference server is.
var embedRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: time.Second,
	MaxBackoff:     time.Second,
	Multiplier:     1,
}

// Embedder turns text into unit-normalized dense vectors. The embedding
// server itself is an opaque external process (spec.md §1); this is a thin
// typed client over its OpenAI-compatible embeddings endpoint, grounded on
// the same wrapper shape as the Inference Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	ModelName() string
}

type httpEmbedder struct {
	sdk       *openai.Client
	modelName string
	dim       int
}

// NewEmbedder constructs an Embedder bound to an embedding server's base URL.
// dim is the known output dimensionality of modelName, used to validate
// responses and size the persisted index.
func NewEmbedder(baseURL, modelName string, dim int) Embedder {
	normalized, err := httpkit.NormalizeBaseURL(baseURL)
	if err != nil {
		normalized = baseURL
	}
	httpClient := httpkit.NewClient(httpkit.ClientConfig{BaseURL: normalized}, httpkit.DefaultClientDefaults())

	sdk := openai.NewClient(
		option.WithBaseURL(normalized),
		option.WithAPIKey("unused"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)
	return &httpEmbedder{sdk: &sdk, modelName: modelName, dim: dim}
}

func (e *httpEmbedder) Dim() int         { return e.dim }
func (e *httpEmbedder) ModelName() string { return e.modelName }

func (e *httpEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp *openai.CreateEmbeddingResponse
	err := core.Retry(ctx, embedRetryPolicy, func() error {
		var callErr error
		resp, callErr = e.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: e.modelName,
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		return callErr
	})
	if err != nil {
		return nil, errors.EmbeddingFailed(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.EmbeddingFailed(nil)
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

// normalize scales v to unit length so inner product equals cosine similarity
// (spec.md §4.D's invariant).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}
