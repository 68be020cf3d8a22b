// Package knowledge holds the per-book vector indexes the agent retrieves from
// and the ingestion pipeline publishes into.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	errx "github.com/bookchat-core/server/internal/core/error"
)

const StatusReady = "ready"

// Passage is one unit of retrieval evidence.
type Passage struct {
	SourceID string  `json:"source_id"`
	Page     *int    `json:"page,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Chunk is an embedded passage waiting to be published.
type Chunk struct {
	SourceID string
	Page     *int
	Text     string
	Vector   []float32
}

// Manifest is written as the last step of a successful ingestion. Only books with a
// ready manifest are served or listed.
type Manifest struct {
	BookID         string    `json:"book_id"`
	Version        string    `json:"version"`
	Status         string    `json:"status"`
	Chunks         int       `json:"chunks"`
	Dimensions     int       `json:"dimensions"`
	EmbeddingModel string    `json:"embedding_model"`
	SourceFile     string    `json:"source_file"`
	CreatedAt      time.Time `json:"created_at"`
}

// Retriever returns the top-k passages of one book. A book without a published
// index yields errx.ErrIndexNotFound; a query matching nothing yields an empty slice.
type Retriever interface {
	Retrieve(ctx context.Context, bookID, query string, k int) ([]Passage, error)
}

// Publisher atomically replaces a book's serving index.
type Publisher interface {
	Publish(ctx context.Context, manifest Manifest, chunks []Chunk) error
}

// Catalog lists books by their manifests.
type Catalog interface {
	ListBooks(ctx context.Context) ([]Manifest, error)
	Manifest(ctx context.Context, bookID string) (Manifest, error)
}

// Store is implemented by every index backend.
type Store interface {
	Retriever
	Publisher
	Catalog
}

// ValidateBookID rejects ids that cannot be used as a single path segment.
func ValidateBookID(bookID string) error {
	switch {
	case strings.TrimSpace(bookID) == "":
		return errx.InvalidInput("book id is empty")
	case len(bookID) > 200:
		return errx.InvalidInput("book id is too long")
	case strings.HasPrefix(bookID, "."):
		return errx.InvalidInput(fmt.Sprintf("book id %q must not start with a dot", bookID))
	case strings.ContainsAny(bookID, `/\`+"\x00"):
		return errx.InvalidInput(fmt.Sprintf("book id %q must not contain path separators", bookID))
	}
	return nil
}

func validateChunks(chunks []Chunk) (int, error) {
	dims := 0
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			return 0, fmt.Errorf("chunk %d has no vector", i)
		}
		if dims == 0 {
			dims = len(c.Vector)
		} else if len(c.Vector) != dims {
			return 0, fmt.Errorf("chunk %d has %d dimensions, expected %d", i, len(c.Vector), dims)
		}
	}
	return dims, nil
}
