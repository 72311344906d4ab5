package cgrag

import "time"

// ContextChunk is one retrieved unit of context, spec.md §3.
type ContextChunk struct {
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	TokenCount int     `json:"token_count"`
	Relevance  float64 `json:"relevance"`
}

// RetrievalResult is the Retriever's output, spec.md §3.
type RetrievalResult struct {
	Artifacts    []ContextChunk
	TotalTokens  int
	WithinBudget bool
}

// Info is the docs.info sidecar, spec.md §6.
type Info struct {
	Dim               int       `json:"dim"`
	Count             int       `json:"count"`
	EmbeddingModel    string    `json:"embedding_model_name"`
	CreatedAt         time.Time `json:"created_at"`
}

// chunkWindow is one unembedded slice of a source document, prior to indexing.
type chunkWindow struct {
	sourcePath string
	chunkIndex int
	text       string
}
