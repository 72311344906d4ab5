package cgrag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadeai/modelmesh/internal/errors"
)

// fakeEmbedder deterministically maps text to a one-hot-ish vector based on
// its first rune, so tests can control similarity scores without a real
// embedding server.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Dim() int         { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake-embedder" }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dim)
		if len(t) > 0 {
			vec[int(t[0])%f.dim] = 1
		}
		out[i] = normalize(vec)
	}
	return out, nil
}

func TestChunkOverlapAndCount(t *testing.T) {
	words := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		words = append(words, "word")
	}
	text := ""
	for i, w := range words {
		if i > 0 {
			text += " "
		}
		text += w
	}

	windows := chunk("doc.txt", text)
	require.Greater(t, len(windows), 1)
	require.Equal(t, 0, windows[0].chunkIndex)

	// 1000 words in 512-word windows stepping by 512-50: starts 0, 462, 924.
	require.Len(t, windows, 3)
	totalWords := 0
	for _, w := range windows {
		totalWords += len(strings.Fields(w.text))
	}
	require.Equal(t, 1000+2*defaultOverlapWords, totalWords)
}

func TestSaveAndLoadIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	metas := []ContextChunk{
		{SourcePath: "a.txt", ChunkIndex: 0, Text: "alpha", TokenCount: 1},
		{SourcePath: "b.txt", ChunkIndex: 0, Text: "beta", TokenCount: 1},
	}
	info := Info{Dim: 3, Count: 2, EmbeddingModel: "fake"}

	require.NoError(t, saveIndex(dir, vectors, metas, info))

	loadedVecs, loadedMetas, loadedInfo, err := loadIndex(dir)
	require.NoError(t, err)
	require.Equal(t, vectors, loadedVecs)
	require.Equal(t, metas, loadedMetas)
	require.Equal(t, 2, loadedInfo.Count)
}

func TestLoadIndexMissingReturnsErrIndexMissing(t *testing.T) {
	dir := t.TempDir()
	_, _, _, err := loadIndex(dir)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrCodeIndexMissing))
}

func TestLoadIndexCorruptSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, infoFileName), []byte(`{"dim":3,"count":2,"embedding_model_name":"fake"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, metaFileName), []byte(`[{},{}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFileName), []byte{1, 2, 3}, 0o644))

	_, _, _, err := loadIndex(dir)
	require.Error(t, err)
}

func TestRetrieveGreedyPacksWithinBudget(t *testing.T) {
	dir := t.TempDir()
	embedder := &fakeEmbedder{dim: 8}

	vectors, _ := embedder.Embed(context.Background(), []string{"apple", "apricot", "banana"})
	metas := []ContextChunk{
		{SourcePath: "a.txt", ChunkIndex: 0, Text: "apple", TokenCount: 5},
		{SourcePath: "a.txt", ChunkIndex: 1, Text: "apricot", TokenCount: 5},
		{SourcePath: "b.txt", ChunkIndex: 0, Text: "banana", TokenCount: 5},
	}
	info := Info{Dim: 8, Count: 3, EmbeddingModel: "fake"}
	require.NoError(t, saveIndex(dir, vectors, metas, info))

	r := NewRetriever(dir, embedder, nil)
	result, err := r.Retrieve(context.Background(), "apple", 8, 5, 0.0)
	require.NoError(t, err)
	require.LessOrEqual(t, result.TotalTokens, 8)
	require.True(t, result.WithinBudget)
}

func TestRetrieveEmptyIndexIsWithinBudget(t *testing.T) {
	dir := t.TempDir()
	embedder := &fakeEmbedder{dim: 8}
	require.NoError(t, saveIndex(dir, nil, nil, Info{Dim: 8, Count: 0, EmbeddingModel: "fake"}))

	r := NewRetriever(dir, embedder, nil)
	result, err := r.Retrieve(context.Background(), "anything", 100, 5, 0.0)
	require.NoError(t, err)
	require.Empty(t, result.Artifacts)
	require.True(t, result.WithinBudget)
}
