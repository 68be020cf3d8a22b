package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	errx "github.com/bookchat-core/server/internal/core/error"
	logx "github.com/bookchat-core/server/pkg/logger"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const pgvectorSchemaV1 = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS books (
    book_id TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    status TEXT NOT NULL,
    chunks INTEGER NOT NULL,
    dimensions INTEGER NOT NULL,
    embedding_model TEXT NOT NULL DEFAULT '',
    source_file TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS book_chunks (
    id BIGSERIAL PRIMARY KEY,
    book_id TEXT NOT NULL,
    version TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    source TEXT NOT NULL,
    page INTEGER,
    content TEXT NOT NULL,
    embedding vector NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_book_chunks_book_version ON book_chunks (book_id, version);
`

// PGVectorStore keeps every book in Postgres. The books row points at the serving
// version; a publish inserts the new version's chunks and flips the pointer in one
// transaction.
type PGVectorStore struct {
	pool     *pgxpool.Pool
	embedder embedding.Embedder
}

func NewPGVectorStore(ctx context.Context, dsn string, embedder embedding.Embedder) (*PGVectorStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgvector store: empty DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgvectorSchemaV1); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: migrate: %w", err)
	}
	return &PGVectorStore{pool: pool, embedder: embedder}, nil
}

func (s *PGVectorStore) Close() {
	s.pool.Close()
}

func (s *PGVectorStore) Retrieve(ctx context.Context, bookID, query string, k int) ([]Passage, error) {
	manifest, err := s.Manifest(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if manifest.Chunks == 0 || k <= 0 {
		return []Passage{}, nil
	}

	embedded, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(embedded))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, page, content, 1 - (embedding <=> $3) AS score
		 FROM book_chunks WHERE book_id = $1 AND version = $2
		 ORDER BY embedding <=> $3 LIMIT $4`,
		bookID, manifest.Version, pgvector.NewVector(toFloat32(embedded[0])), k)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %q: %w", bookID, err)
	}
	defer rows.Close()

	passages := []Passage{}
	for rows.Next() {
		var (
			p    Passage
			page *int32
		)
		if err := rows.Scan(&p.SourceID, &page, &p.Text, &p.Score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if page != nil {
			n := int(*page)
			p.Page = &n
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

func (s *PGVectorStore) Manifest(ctx context.Context, bookID string) (Manifest, error) {
	m := Manifest{BookID: bookID}
	err := s.pool.QueryRow(ctx,
		`SELECT version, status, chunks, dimensions, embedding_model, source_file, created_at
		 FROM books WHERE book_id = $1`, bookID).
		Scan(&m.Version, &m.Status, &m.Chunks, &m.Dimensions, &m.EmbeddingModel, &m.SourceFile, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Manifest{}, errx.IndexNotFound(bookID)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest for %q: %w", bookID, err)
	}
	if m.Status != StatusReady {
		return Manifest{}, errx.IndexNotFound(bookID)
	}
	return m, nil
}

func (s *PGVectorStore) ListBooks(ctx context.Context) ([]Manifest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT book_id, version, status, chunks, dimensions, embedding_model, source_file, created_at
		 FROM books WHERE status = $1 ORDER BY book_id`, StatusReady)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	books := []Manifest{}
	for rows.Next() {
		var m Manifest
		if err := rows.Scan(&m.BookID, &m.Version, &m.Status, &m.Chunks, &m.Dimensions, &m.EmbeddingModel, &m.SourceFile, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, m)
	}
	return books, rows.Err()
}

func (s *PGVectorStore) Publish(ctx context.Context, manifest Manifest, chunks []Chunk) error {
	if err := ValidateBookID(manifest.BookID); err != nil {
		return err
	}
	dims, err := validateChunks(chunks)
	if err != nil {
		return fmt.Errorf("publish %q: %w", manifest.BookID, err)
	}
	if manifest.Version == "" {
		manifest.Version = time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("publish %q: begin: %w", manifest.BookID, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		var page *int32
		if c.Page != nil {
			p := int32(*c.Page)
			page = &p
		}
		batch.Queue(
			`INSERT INTO book_chunks (book_id, version, ordinal, source, page, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			manifest.BookID, manifest.Version, i, c.SourceID, page, c.Text, pgvector.NewVector(c.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("publish %q: insert chunks: %w", manifest.BookID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO books (book_id, version, status, chunks, dimensions, embedding_model, source_file, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (book_id) DO UPDATE SET
		   version = EXCLUDED.version, status = EXCLUDED.status, chunks = EXCLUDED.chunks,
		   dimensions = EXCLUDED.dimensions, embedding_model = EXCLUDED.embedding_model,
		   source_file = EXCLUDED.source_file, created_at = EXCLUDED.created_at`,
		manifest.BookID, manifest.Version, StatusReady, len(chunks), dims,
		manifest.EmbeddingModel, manifest.SourceFile, manifest.CreatedAt); err != nil {
		return fmt.Errorf("publish %q: upsert manifest: %w", manifest.BookID, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM book_chunks WHERE book_id = $1 AND version <> $2`,
		manifest.BookID, manifest.Version); err != nil {
		return fmt.Errorf("publish %q: drop old versions: %w", manifest.BookID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("publish %q: commit: %w", manifest.BookID, err)
	}

	logx.Info().
		Str("book_id", manifest.BookID).
		Str("version", manifest.Version).
		Int("chunks", len(chunks)).
		Msg("book index published to pgvector")
	return nil
}

var _ Store = (*PGVectorStore)(nil)
