package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bookchat-core/server/internal/agent/model"
	"github.com/bookchat-core/server/internal/knowledge"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/bookchat-core/server/pkg/metrics"
	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/errgroup"
)

// Pipeline turns one PDF into a published book index.
type Pipeline struct {
	embedder       embedding.Embedder
	embeddingModel string
	publisher      knowledge.Publisher
	cfg            model.IngestionConfig
	extract        func(path string) ([]Page, error)
}

func NewPipeline(embedder embedding.Embedder, embeddingModel string, publisher knowledge.Publisher, cfg model.IngestionConfig) *Pipeline {
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = 100
	}
	if cfg.EmbedParallelism <= 0 {
		cfg.EmbedParallelism = 1
	}
	return &Pipeline{
		embedder:       embedder,
		embeddingModel: embeddingModel,
		publisher:      publisher,
		cfg:            cfg,
		extract:        ExtractPages,
	}
}

// BookIDFromPath derives the book id from the file name without its extension.
func BookIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ingest extracts, chunks, embeds and publishes path as bookID.
// Nothing becomes visible to readers unless every step succeeds.
func (p *Pipeline) Ingest(ctx context.Context, bookID, path string) (knowledge.Manifest, error) {
	if err := knowledge.ValidateBookID(bookID); err != nil {
		return knowledge.Manifest{}, err
	}
	start := time.Now()

	pages, err := p.extract(path)
	if err != nil {
		return knowledge.Manifest{}, err
	}
	textChunks := ChunkPages(pages, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	logx.Info().
		Str("book_id", bookID).
		Int("pages", len(pages)).
		Int("chunks", len(textChunks)).
		Msg("book split into chunks")

	vectors, err := p.embed(ctx, textChunks)
	if err != nil {
		return knowledge.Manifest{}, fmt.Errorf("embed %q: %w", bookID, err)
	}

	source := filepath.Base(path)
	chunks := make([]knowledge.Chunk, len(textChunks))
	for i, tc := range textChunks {
		page := tc.Page
		chunks[i] = knowledge.Chunk{SourceID: source, Page: &page, Text: tc.Text, Vector: vectors[i]}
	}

	manifest := knowledge.Manifest{
		BookID:         bookID,
		EmbeddingModel: p.embeddingModel,
		SourceFile:     source,
	}
	if err := p.publisher.Publish(ctx, manifest, chunks); err != nil {
		return knowledge.Manifest{}, err
	}
	metrics.IngestedChunksTotal.Add(float64(len(chunks)))

	manifest.Status = knowledge.StatusReady
	manifest.Chunks = len(chunks)
	if len(vectors) > 0 {
		manifest.Dimensions = len(vectors[0])
	}
	logx.Info().
		Str("book_id", bookID).
		Dur("took", time.Since(start)).
		Msg("book ingested")
	return manifest, nil
}

// embed runs batches concurrently, bounded by EmbedParallelism, keeping chunk order.
func (p *Pipeline) embed(ctx context.Context, chunks []TextChunk) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedParallelism)

	for start := 0; start < len(chunks); start += p.cfg.EmbedBatch {
		start := start
		end := min(start+p.cfg.EmbedBatch, len(chunks))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			vecs, err := p.embedder.EmbedStrings(gctx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("batch %d: got %d vectors for %d texts", start/p.cfg.EmbedBatch, len(vecs), len(texts))
			}
			for i, v := range vecs {
				vec := make([]float32, len(v))
				for j, x := range v {
					vec[j] = float32(x)
				}
				out[start+i] = vec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
