// Package ingest loads license-renewal reference documents into the vector
// store: plain text and markdown are read directly, PDFs are extracted, and
// everything is chunked and embedded before insertion.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/obi/internal/retrieval"
)

// chunkSize is the target chunk length in characters. Chunks break on
// paragraph boundaries where possible, so actual sizes vary around it.
const chunkSize = 1200

// ContentEmbedder generates embeddings for a batch of text chunks.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter inserts records into the vector store and clears previous
// records for a source before re-ingestion.
type VectorWriter interface {
	Insert(records []retrieval.Record) error
	DeleteBySource(source string) (int64, error)
}

// Ingester walks document directories and loads their contents into the
// vector store.
type Ingester struct {
	embedder ContentEmbedder
	vectors  VectorWriter
	logger   *slog.Logger
}

// NewIngester creates an Ingester with the given dependencies.
func NewIngester(embedder ContentEmbedder, vectors VectorWriter, logger *slog.Logger) *Ingester {
	return &Ingester{embedder: embedder, vectors: vectors, logger: logger}
}

// Result summarizes one ingestion run.
type Result struct {
	Files  int
	Chunks int
}

// IngestDir ingests every supported file (.txt, .md, .pdf) under dir.
// Re-ingesting a directory replaces the previous records for each file, so
// the operation is safe to repeat. Unreadable files are logged and skipped;
// the run fails only when embedding or storage fails.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (Result, error) {
	var res Result

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExt(path) {
			return nil
		}

		chunks, err := in.IngestFile(ctx, path)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
		res.Files++
		res.Chunks += chunks
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// IngestFile ingests a single document and returns the number of chunks
// stored. Previous records for the same source are removed first.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	text, err := extractText(path)
	if err != nil {
		in.logger.Warn("skipping unreadable document", "path", path, "error", err)
		return 0, nil
	}

	chunks := chunkText(text)
	if len(chunks) == 0 {
		in.logger.Warn("skipping empty document", "path", path)
		return 0, nil
	}

	vectors, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}

	source := filepath.Base(path)
	if _, err := in.vectors.DeleteBySource(source); err != nil {
		return 0, fmt.Errorf("clearing previous records: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = retrieval.Record{
			ID:        uuid.NewString(),
			Source:    source,
			TextChunk: chunk,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}
	if err := in.vectors.Insert(records); err != nil {
		return 0, fmt.Errorf("inserting records: %w", err)
	}

	in.logger.Info("ingested document", "source", source, "chunks", len(records))
	return len(records), nil
}

func supportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf":
		return true
	}
	return false
}

// extractText reads a document as plain text. PDFs go through text
// extraction; anything else is read verbatim.
func extractText(path string) (string, error) {
	if strings.ToLower(filepath.Ext(path)) != ".pdf" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// chunkText splits text into chunks of roughly chunkSize characters,
// preferring paragraph boundaries. Whitespace-only paragraphs are dropped.
func chunkText(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		// Oversized paragraphs are split on their own.
		if len(p) > chunkSize {
			flush()
			for len(p) > chunkSize {
				cut := strings.LastIndex(p[:chunkSize], " ")
				if cut <= 0 {
					cut = chunkSize
				}
				chunks = append(chunks, strings.TrimSpace(p[:cut]))
				p = strings.TrimSpace(p[cut:])
			}
			if p != "" {
				chunks = append(chunks, p)
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(p)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}
