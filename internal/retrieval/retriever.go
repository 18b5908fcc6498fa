package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// TextEmbedder turns query text into an embedding vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds stored chunks similar to a query vector.
type VectorSearcher interface {
	Search(vector []float32, topK int) ([]ScoredRecord, error)
	Count() (int, error)
}

// Passage is a retrieved document chunk ready to be injected into a
// conversation.
type Passage struct {
	ID     string
	Source string
	Text   string
	Score  float32
}

// Retriever answers free-text queries against the ingested document corpus.
type Retriever struct {
	embedder TextEmbedder
	store    VectorSearcher
	logger   *slog.Logger
}

// NewRetriever wires an embedder and a vector store into a Retriever.
func NewRetriever(embedder TextEmbedder, store VectorSearcher, logger *slog.Logger) *Retriever {
	return &Retriever{embedder: embedder, store: store, logger: logger}
}

// Query embeds the text and returns the topK most similar passages.
// An empty corpus or no matches yields a nil slice and no error so callers
// can degrade to answering without document context.
func (r *Retriever) Query(ctx context.Context, text string, topK int) ([]Passage, error) {
	if text == "" || topK <= 0 {
		return nil, nil
	}

	count, err := r.store.Count()
	if err != nil {
		return nil, fmt.Errorf("checking corpus size: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(vector, topK)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	passages := make([]Passage, 0, len(scored))
	for _, s := range scored {
		passages = append(passages, Passage{
			ID:     s.ID,
			Source: s.Source,
			Text:   s.TextChunk,
			Score:  s.Score,
		})
	}
	r.logger.Debug("retrieved passages", "query_len", len(text), "count", len(passages))
	return passages, nil
}
