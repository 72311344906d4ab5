package cgrag

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cascadeai/modelmesh/internal/logging"
)

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var indexableExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".go":   true,
	".py":   true,
	".rst":  true,
	".json": true,
}

const embedConcurrency = 8

// Indexer chunks, embeds, and persists a document corpus (spec.md §4.D).
// Concurrency is bounded the same way the teacher bounds its RPC health
// checks: an errgroup paired with a weighted semaphore (SPEC_FULL.md §5.D).
type Indexer struct {
	dir      string
	embedder Embedder
	logger   *logging.Logger
	enc      *tiktoken.Tiktoken
}

// NewIndexer constructs an Indexer persisting to dir.
func NewIndexer(dir string, embedder Embedder, logger *logging.Logger) (*Indexer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &Indexer{dir: dir, embedder: embedder, logger: logger, enc: enc}, nil
}

// Index walks paths, chunks every indexable file found, embeds all chunks
// with bounded concurrency, and persists the resulting vector store.
func (ix *Indexer) Index(ctx context.Context, paths []string) error {
	var windows []chunkWindow
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !indexableExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			text, readErr := readFile(path)
			if readErr != nil {
				return readErr
			}
			windows = append(windows, chunk(path, text)...)
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(windows) == 0 {
		return saveIndex(ix.dir, nil, nil, Info{Dim: ix.embedder.Dim(), Count: 0, EmbeddingModel: ix.embedder.ModelName(), CreatedAt: time.Now()})
	}

	vectors := make([][]float32, len(windows))
	metas := make([]ContextChunk, len(windows))

	sem := semaphore.NewWeighted(embedConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i, w := range windows {
		i, w := i, w
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			vecs, err := ix.embedder.Embed(gctx, []string{w.text})
			if err != nil {
				return err
			}
			tokenCount := len(ix.enc.Encode(w.text, nil, nil))

			mu.Lock()
			vectors[i] = vecs[0]
			metas[i] = ContextChunk{
				SourcePath: w.sourcePath,
				ChunkIndex: w.chunkIndex,
				Text:       w.text,
				TokenCount: tokenCount,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	order := make([]int, len(metas))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if metas[i].SourcePath != metas[j].SourcePath {
			return metas[i].SourcePath < metas[j].SourcePath
		}
		return metas[i].ChunkIndex < metas[j].ChunkIndex
	})
	sortedVectors := make([][]float32, len(vectors))
	sortedMetas := make([]ContextChunk, len(metas))
	for newIdx, oldIdx := range order {
		sortedVectors[newIdx] = vectors[oldIdx]
		sortedMetas[newIdx] = metas[oldIdx]
	}

	info := Info{
		Dim:            ix.embedder.Dim(),
		Count:          len(sortedVectors),
		EmbeddingModel: ix.embedder.ModelName(),
		CreatedAt:      time.Now(),
	}
	return saveIndex(ix.dir, sortedVectors, sortedMetas, info)
}
